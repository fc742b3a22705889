package operations_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/operations"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/processor"
)

// buildRegistry assembles the real handler table over the fakes, so tests
// drive handlers exactly the way the processor does: through Lookup.
func buildRegistry(t *testing.T, runner *fakeRunner, ents *fakeEntities, sess *fakeSessions, dir string) *processor.Registry {
	t.Helper()
	reg, err := operations.BuildRegistry(operations.Deps{
		Runner:   runner,
		Entities: ents,
		Sessions: sess,
		PDFDir:   dir,
		PageSize: 2,
	})
	require.NoError(t, err)
	return reg
}

func handle(t *testing.T, reg *processor.Registry, kind domain.OperationKind, r *invRec) (any, error) {
	t.Helper()
	h, ok := reg.Lookup(kind)
	require.True(t, ok, "no handler for %s", kind)
	return h.Handle(context.Background(), r.inv)
}

type fakeBrowser struct{ sid, uid string }

func (f fakeBrowser) SessionID() string { return f.sid }
func (f fakeBrowser) UserID() string    { return f.uid }

type runnerCall struct {
	sessionID string
	action    string
	params    any
}

// fakeRunner scripts bot-runner responses per action. Results are consumed
// FIFO; an action with no scripted result returns {}.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []runnerCall
	results map[string][]json.RawMessage
	errs    map[string]error
	onDo    func(action string)

	pdf      []byte
	pdfErr   error
	pdfCalls []runnerCall
}

func (f *fakeRunner) Do(_ domain.Context, sessionID, action string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runnerCall{sessionID: sessionID, action: action, params: params})
	if f.onDo != nil {
		f.onDo(action)
	}
	if err := f.errs[action]; err != nil {
		return nil, err
	}
	rs := f.results[action]
	if len(rs) == 0 {
		return json.RawMessage(`{}`), nil
	}
	r := rs[0]
	f.results[action] = rs[1:]
	return r, nil
}

func (f *fakeRunner) FetchPDF(_ domain.Context, sessionID, docType, docNumber string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pdfCalls = append(f.pdfCalls, runnerCall{sessionID: sessionID, action: docType, params: docNumber})
	if f.pdfErr != nil {
		return nil, f.pdfErr
	}
	return f.pdf, nil
}

func (f *fakeRunner) script(action string, results ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		f.results = make(map[string][]json.RawMessage)
	}
	for _, r := range results {
		f.results[action] = append(f.results[action], json.RawMessage(r))
	}
}

func (f *fakeRunner) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.action == action {
			n++
		}
	}
	return n
}

type upsertCall struct {
	entity string
	userID string
	rows   []domain.EntityRow
}

type replaceCall struct {
	userID  string
	orderID string
	rows    []domain.EntityRow
}

// fakeEntities records local-mirror writes. failUpserts makes the first N
// upserts fail, which is how the crash-recovery tests simulate a DB outage
// between the ERP side effect and the local commit.
type fakeEntities struct {
	mu          sync.Mutex
	upserts     []upsertCall
	deletes     []string
	replaces    []replaceCall
	failUpserts int
	replaceErr  error
	deleteErr   error
}

func (f *fakeEntities) UpsertEntities(_ domain.Context, entity, userID string, rows []domain.EntityRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpserts > 0 {
		f.failUpserts--
		return fmt.Errorf("db unavailable")
	}
	f.upserts = append(f.upserts, upsertCall{entity: entity, userID: userID, rows: rows})
	return nil
}

func (f *fakeEntities) DeleteEntity(_ domain.Context, entity, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, entity+"/"+userID+"/"+id)
	return nil
}

func (f *fakeEntities) ReplaceOrderArticles(_ domain.Context, userID, orderID string, rows []domain.EntityRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaces = append(f.replaces, replaceCall{userID: userID, orderID: orderID, rows: rows})
	return nil
}

// fakeRecovery is an in-memory bot-result store scoped to one job, the way
// the processor scopes the real one.
type fakeRecovery struct {
	mu       sync.Mutex
	saved    map[string]json.RawMessage
	saves    int
	clears   int
	checkErr error
	saveErr  error
	clearErr error
}

func newFakeRecovery() *fakeRecovery {
	return &fakeRecovery{saved: make(map[string]json.RawMessage)}
}

func (f *fakeRecovery) Check(_ domain.Context, key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.saved[key], nil
}

func (f *fakeRecovery) Save(_ domain.Context, key string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.saved[key] = b
	f.saves++
	return nil
}

func (f *fakeRecovery) Clear(_ domain.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	delete(f.saved, key)
	f.clears++
	return nil
}

type fakeSessions struct {
	mu    sync.Mutex
	marks []string
}

func (f *fakeSessions) MarkInUse(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, "in-use")
}

func (f *fakeSessions) MarkIdle(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, "idle")
}

type progressRec struct {
	pct   int
	label string
}

// invRec bundles an Invocation with recorders for its callbacks.
type invRec struct {
	inv      *domain.Invocation
	progress []progressRec
	emitted  []domain.Event
	stop     chan struct{}
}

func newInv(kind domain.OperationKind, userID, data string, rec domain.Recovery) *invRec {
	r := &invRec{stop: make(chan struct{})}
	r.inv = &domain.Invocation{
		JobID:   "job-1",
		Kind:    kind,
		UserID:  userID,
		Data:    json.RawMessage(data),
		Browser: fakeBrowser{sid: "sess-1", uid: userID},
		Stop:    r.stop,
		Progress: func(pct int, label string) {
			r.progress = append(r.progress, progressRec{pct: pct, label: label})
		},
		Emit:     func(evt domain.Event) { r.emitted = append(r.emitted, evt) },
		Recovery: rec,
	}
	return r
}

func (r *invRec) labels() []string {
	out := make([]string, len(r.progress))
	for i, p := range r.progress {
		out[i] = p.label
	}
	return out
}
