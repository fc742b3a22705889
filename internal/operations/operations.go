// Package operations implements the handlers behind every operation kind:
// ERP writes with the bot-result recovery protocol, document downloads and
// the paged catalogue syncs. Handlers drive the browser through the bot
// runner sidecar; the browser-side mechanics live there, sequencing and
// local catch-up writes live here.
package operations

import (
	"encoding/json"
	"fmt"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/processor"
)

// RunnerClient is the slice of the bot-runner API the handlers consume.
// *browser.Client satisfies it.
type RunnerClient interface {
	Do(ctx domain.Context, sessionID, action string, params any) (json.RawMessage, error)
	FetchPDF(ctx domain.Context, sessionID, docType, docNumber string) ([]byte, error)
}

// SessionMarker is the slice of the browser pool the sync runner uses to
// flag whether the leased session is actively driving the browser. While a
// page of rows is being stored locally the session is marked idle so the
// keep-alive tick takes over.
type SessionMarker interface {
	MarkInUse(userID string)
	MarkIdle(userID string)
}

// Deps carries everything the handlers need. All fields except PageSize
// are required.
type Deps struct {
	Runner   RunnerClient
	Entities domain.EntityStore
	Sessions SessionMarker
	// PDFDir is where downloaded documents are written.
	PDFDir string
	// PageSize is the default rows-per-page for bulk syncs; payloads may
	// override it. Zero means 100.
	PageSize int
}

func (d Deps) check() error {
	if d.Runner == nil {
		return fmt.Errorf("op=operations.deps: nil runner: %w", domain.ErrInvalidArgument)
	}
	if d.Entities == nil {
		return fmt.Errorf("op=operations.deps: nil entity store: %w", domain.ErrInvalidArgument)
	}
	if d.Sessions == nil {
		return fmt.Errorf("op=operations.deps: nil session marker: %w", domain.ErrInvalidArgument)
	}
	if d.PDFDir == "" {
		return fmt.Errorf("op=operations.deps: empty pdf dir: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// BuildRegistry wires a handler for all fifteen kinds and validates the
// table. The server refuses to start when this fails.
func BuildRegistry(deps Deps) (*processor.Registry, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if deps.PageSize <= 0 {
		deps.PageSize = 100
	}

	w := &writes{runner: deps.Runner, entities: deps.Entities}
	dl := &downloads{runner: deps.Runner, dir: deps.PDFDir}

	r := processor.NewRegistry()
	r.MustRegister(domain.OpSubmitOrder, domain.HandlerFunc(w.SubmitOrder))
	r.MustRegister(domain.OpCreateCustomer, domain.HandlerFunc(w.CreateCustomer))
	r.MustRegister(domain.OpUpdateCustomer, domain.HandlerFunc(w.UpdateCustomer))
	r.MustRegister(domain.OpSendToVerona, domain.HandlerFunc(w.SendToVerona))
	r.MustRegister(domain.OpEditOrder, domain.HandlerFunc(w.EditOrder))
	r.MustRegister(domain.OpDeleteOrder, domain.HandlerFunc(w.DeleteOrder))
	r.MustRegister(domain.OpDownloadDDTPDF, domain.HandlerFunc(dl.DDT))
	r.MustRegister(domain.OpDownloadInvoicePDF, domain.HandlerFunc(dl.Invoice))

	s := &syncs{runner: deps.Runner, entities: deps.Entities, sessions: deps.Sessions, pageSize: deps.PageSize}
	r.MustRegister(domain.OpSyncOrderArticles, domain.HandlerFunc(s.OrderArticles))
	for kind, run := range bulkSyncTable {
		r.MustRegister(kind, s.bulk(kind, run))
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
