package domain

import "encoding/json"

// ProgressFunc reports handler progress (0 to 100) with an optional label.
type ProgressFunc func(percent int, label string)

// EmitFunc broadcasts a handler-defined event through the job's agent
// channel.
type EmitFunc func(evt Event)

// Recovery is the bot-result protocol pre-scoped to the running job's
// agent and kind. Write handlers call Check before acting, Save right
// after the irreversible ERP step, and Clear once local state caught up.
type Recovery interface {
	Check(ctx Context, operationKey string) (json.RawMessage, error)
	Save(ctx Context, operationKey string, payload any) error
	Clear(ctx Context, operationKey string) error
}

// Invocation is everything a handler receives for one delivery.
type Invocation struct {
	JobID  string
	Kind   OperationKind
	UserID string
	// Data is the enqueue payload, byte-for-byte.
	Data    json.RawMessage
	Browser BrowserContext
	// Stop is closed when a competing write asks this job to wind down at
	// its next safe checkpoint. Hard cancellation (timeout, client cancel)
	// arrives through the ctx passed to Handle instead.
	Stop     <-chan struct{}
	Progress ProgressFunc
	Emit     EmitFunc
	Recovery Recovery
}

// Stopped reports whether a cooperative stop has been requested. Sync
// handlers check it between batches.
func (inv *Invocation) Stopped() bool {
	select {
	case <-inv.Stop:
		return true
	default:
		return false
	}
}

// Handler executes one operation against an authenticated browser
// context. The returned value is opaque to the processor except for the
// Result convention below.
type Handler interface {
	Handle(ctx Context, inv *Invocation) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx Context, inv *Invocation) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx Context, inv *Invocation) (any, error) { return f(ctx, inv) }

// Result lets a handler return value carry its own failure flag. A value
// reporting failed=true fails the job even though the handler returned no
// error; bulk syncs use this so a partial failure still ships a summary.
type Result interface {
	Failed() (reason string, failed bool)
}
