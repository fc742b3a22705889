package operations

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// SyncReport summarises one sync run. It implements domain.Result so an
// aborted run still delivers its counters while failing the job.
type SyncReport struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Synced  int    `json:"synced"`
	Pages   int    `json:"pages"`
	Skipped int    `json:"skipped"`
}

// Failed implements domain.Result.
func (r SyncReport) Failed() (string, bool) {
	if r.Success {
		return "", false
	}
	reason := r.Error
	if reason == "" {
		reason = "sync failed"
	}
	return reason, true
}

// EventSyncPage is emitted after every stored page so dashboards can show
// live sync state without polling.
const EventSyncPage domain.EventType = "SYNC_PAGE"

// SyncPagePayload is the EventSyncPage payload.
type SyncPagePayload struct {
	JobID  string               `json:"jobId"`
	Kind   domain.OperationKind `json:"kind"`
	Page   int                  `json:"page"`
	Rows   int                  `json:"rows"`
	Synced int                  `json:"synced"`
}

// pageParams asks the runner for one grid page.
type pageParams struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// pageResult is what the runner returns per page. Total is the overall row
// count when the ERP grid exposes it, zero otherwise.
type pageResult struct {
	Rows    []domain.EntityRow `json:"rows"`
	HasMore bool               `json:"hasMore"`
	Total   int                `json:"total,omitempty"`
}

// bulkSync describes one scheduled sync: the runner page action, the local
// table it fills and the Italian noun for progress labels.
type bulkSync struct {
	entity string
	action string
	label  string
}

var bulkSyncTable = map[domain.OperationKind]bulkSync{
	domain.OpSyncCustomers: {entity: "customers", action: "customers.page", label: "clienti"},
	domain.OpSyncOrders:    {entity: "orders", action: "orders.page", label: "ordini"},
	domain.OpSyncDDT:       {entity: "ddt", action: "ddt.page", label: "DDT"},
	domain.OpSyncInvoices:  {entity: "invoices", action: "invoices.page", label: "fatture"},
	domain.OpSyncProducts:  {entity: "products", action: "products.page", label: "prodotti"},
	domain.OpSyncPrices:    {entity: "prices", action: "prices.page", label: "listini"},
}

type syncs struct {
	runner   RunnerClient
	entities domain.EntityStore
	sessions SessionMarker
	pageSize int
}

// bulk builds the handler for one scheduled sync kind. Pages are fetched
// with the session in use and stored with it idle; the stop channel is
// honoured between pages, so a preempting write waits at most one page.
func (s *syncs) bulk(kind domain.OperationKind, spec bulkSync) domain.HandlerFunc {
	return func(ctx domain.Context, inv *domain.Invocation) (any, error) {
		tracer := otel.Tracer("operations.syncs")
		ctx, span := tracer.Start(ctx, "operations.Sync")
		defer span.End()
		span.SetAttributes(attribute.String("operation.kind", string(kind)))

		size := s.pageSize
		if len(inv.Data) > 0 {
			var p BulkSyncPayload
			if err := decode(inv.Data, &p); err != nil {
				return nil, err
			}
			if p.PageSize > 0 {
				size = p.PageSize
			}
		}

		var report SyncReport
		inv.Progress(0, fmt.Sprintf("Sincronizzazione %s avviata", spec.label))
		for page := 1; ; page++ {
			if inv.Stopped() {
				report.Error = fmt.Sprintf("aborted: stop requested after %d pages", report.Pages)
				slog.Info("sync stopped cooperatively",
					slog.String("job_id", inv.JobID),
					slog.String("kind", string(kind)),
					slog.Int("pages", report.Pages))
				return report, nil
			}

			s.sessions.MarkInUse(inv.UserID)
			raw, err := s.runner.Do(ctx, inv.Browser.SessionID(), spec.action, pageParams{Page: page, PageSize: size})
			if err != nil {
				return nil, fmt.Errorf("op=operations.%s: page %d: %w", kind, page, err)
			}
			var res pageResult
			if err := json.Unmarshal(raw, &res); err != nil {
				return nil, domain.Unrecoverable(fmt.Errorf("op=operations.%s: bad page result: %w", kind, err))
			}
			s.sessions.MarkIdle(inv.UserID)

			kept, skipped := keepRows(res.Rows)
			report.Skipped += skipped
			if err := s.entities.UpsertEntities(ctx, spec.entity, inv.UserID, kept); err != nil {
				return nil, fmt.Errorf("op=operations.%s: store page %d: %w", kind, page, err)
			}
			report.Pages++
			report.Synced += len(kept)

			inv.Progress(pagePercent(report.Pages, res.Total, report.Synced),
				fmt.Sprintf("Pagina %d sincronizzata (%d %s)", page, report.Synced, spec.label))
			inv.Emit(domain.NewEvent(EventSyncPage, SyncPagePayload{
				JobID:  inv.JobID,
				Kind:   kind,
				Page:   page,
				Rows:   len(kept),
				Synced: report.Synced,
			}))

			if !res.HasMore {
				break
			}
		}
		report.Success = true
		inv.Progress(100, fmt.Sprintf("Sincronizzazione %s completata", spec.label))
		return report, nil
	}
}

// OrderArticles refreshes the mirrored article lines of a single order.
func (s *syncs) OrderArticles(ctx domain.Context, inv *domain.Invocation) (any, error) {
	tracer := otel.Tracer("operations.syncs")
	ctx, span := tracer.Start(ctx, "operations.SyncOrderArticles")
	defer span.End()

	var p SyncOrderArticlesPayload
	if err := decode(inv.Data, &p); err != nil {
		return nil, err
	}
	var report SyncReport
	if inv.Stopped() {
		report.Error = "aborted: stop requested"
		return report, nil
	}

	inv.Progress(10, "Lettura articoli ordine da Archibald")
	s.sessions.MarkInUse(inv.UserID)
	raw, err := s.runner.Do(ctx, inv.Browser.SessionID(), "order.articles", p)
	if err != nil {
		return nil, fmt.Errorf("op=operations.sync_order_articles: %w", err)
	}
	var res pageResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, domain.Unrecoverable(fmt.Errorf("op=operations.sync_order_articles: bad runner result: %w", err))
	}
	s.sessions.MarkIdle(inv.UserID)

	kept, skipped := keepRows(res.Rows)
	inv.Progress(70, "Aggiornamento archivio locale")
	if err := s.entities.ReplaceOrderArticles(ctx, inv.UserID, p.OrderID, kept); err != nil {
		return nil, fmt.Errorf("op=operations.sync_order_articles: %w", err)
	}

	report.Success = true
	report.Pages = 1
	report.Synced = len(kept)
	report.Skipped = skipped
	inv.Progress(100, "Articoli ordine sincronizzati")
	return report, nil
}

// keepRows drops rows without an id; the ERP occasionally emits blank
// filler lines in its grids.
func keepRows(rows []domain.EntityRow) (kept []domain.EntityRow, skipped int) {
	kept = make([]domain.EntityRow, 0, len(rows))
	for _, r := range rows {
		if r.ID == "" {
			skipped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, skipped
}

// pagePercent estimates completion. With a known row total it is exact;
// otherwise it rises asymptotically so the bar keeps moving on long syncs.
func pagePercent(pages, total, synced int) int {
	if total > 0 {
		p := synced * 100 / total
		if p > 99 {
			p = 99
		}
		return p
	}
	p := 100 - 100/(pages+1)
	if p > 95 {
		p = 95
	}
	return p
}
