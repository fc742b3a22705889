// Package agentlock enforces the one-running-job-per-agent rule.
//
// The lock is a process-local table keyed by agent id; it only coordinates
// goroutines inside the single backend process that owns the queue and the
// browser sessions. Preemption policy lives in the domain registry; the
// lock merely evaluates it when an acquire contends.
package agentlock

import (
	"sync"
	"time"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// ActiveJob is a point-in-time copy of an agent's running job. RequestStop
// re-resolves the live record at call time, so invoking it after the job
// finished (or after the slot changed hands) is a no-op.
type ActiveJob struct {
	JobID       string
	Kind        domain.OperationKind
	Since       time.Time
	RequestStop func()
}

// Result is the outcome of one Acquire attempt.
type Result struct {
	Acquired bool
	// Active describes the current holder when contended.
	Active ActiveJob
	// Preemptable is true exactly when the holder is a scheduled sync and
	// the incoming kind is a write.
	Preemptable bool
}

type entry struct {
	jobID string
	kind  domain.OperationKind
	since time.Time
	stop  func()
}

// Lock is the per-agent mutual exclusion table. The zero value is not
// usable; construct with New.
type Lock struct {
	mu     sync.Mutex
	active map[string]*entry
}

// New returns an empty lock table.
func New() *Lock {
	return &Lock{active: make(map[string]*entry)}
}

// Acquire attempts to take the agent's slot for jobID. A held slot always
// contends, including when the same jobID asks again: there is no
// re-entrancy. Contended results carry a copy of the holder and the
// preemptability verdict for the incoming kind.
func (l *Lock) Acquire(userID, jobID string, kind domain.OperationKind) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.active[userID]; ok {
		return Result{
			Active:      l.snapshotLocked(userID, cur),
			Preemptable: domain.Preemptable(cur.kind, kind),
		}
	}
	l.active[userID] = &entry{jobID: jobID, kind: kind, since: time.Now().UTC()}
	return Result{Acquired: true}
}

// Release clears the agent's slot only when jobID still holds it. A stale
// release (job already replaced or slot empty) is a no-op returning false,
// so a finished job can never free a successor's slot.
func (l *Lock) Release(userID, jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.active[userID]
	if !ok || cur.jobID != jobID {
		return false
	}
	delete(l.active, userID)
	return true
}

// SetStopCallback attaches the cooperative-stop trigger to the agent's
// current record, replacing any previous one. Calling it while the agent
// is idle is a no-op.
func (l *Lock) SetStopCallback(userID string, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.active[userID]; ok {
		cur.stop = fn
	}
}

// RequestStop invokes the current holder's stop callback if jobID still
// holds the slot and a callback is installed. The callback runs outside
// the lock's mutex.
func (l *Lock) RequestStop(userID, jobID string) bool {
	l.mu.Lock()
	var fn func()
	if cur, ok := l.active[userID]; ok && cur.jobID == jobID {
		fn = cur.stop
	}
	l.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Active returns a copy of the agent's running job, if any.
func (l *Lock) Active(userID string) (ActiveJob, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.active[userID]
	if !ok {
		return ActiveJob{}, false
	}
	return l.snapshotLocked(userID, cur), true
}

// AllActive returns a snapshot of every agent's running job. The map is
// owned by the caller.
func (l *Lock) AllActive() map[string]ActiveJob {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]ActiveJob, len(l.active))
	for userID, cur := range l.active {
		out[userID] = l.snapshotLocked(userID, cur)
	}
	return out
}

// Len reports how many agents currently hold a slot.
func (l *Lock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// snapshotLocked copies an entry. The embedded RequestStop captures the
// jobID of this generation and goes through the lock again on invocation,
// so a stale snapshot can never stop a later job.
func (l *Lock) snapshotLocked(userID string, e *entry) ActiveJob {
	jobID := e.jobID
	return ActiveJob{
		JobID: jobID,
		Kind:  e.kind,
		Since: e.since,
		RequestStop: func() {
			l.RequestStop(userID, jobID)
		},
	}
}
