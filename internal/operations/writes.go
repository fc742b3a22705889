package operations

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// OrderResult is what the runner reports back for the order writes: the ERP
// order id, the full order document for the local mirror, and optionally
// the article lines as the ERP recorded them.
type OrderResult struct {
	OrderID  string             `json:"orderId"`
	Order    json.RawMessage    `json:"order,omitempty"`
	Articles []domain.EntityRow `json:"articles,omitempty"`
}

// CustomerResult is the runner result for the customer writes.
// CustomerProfile is the ERP-assigned customer code.
type CustomerResult struct {
	CustomerProfile string          `json:"customerProfile"`
	Customer        json.RawMessage `json:"customer,omitempty"`
}

// DeleteOrderResult confirms an order removal.
type DeleteOrderResult struct {
	OrderID string `json:"orderId"`
	Deleted bool   `json:"deleted"`
}

const labelRecovered = "Risultato precedente recuperato"

type writes struct {
	runner   RunnerClient
	entities domain.EntityStore
}

// writeStep describes one ERP write for the recovery choreography in run.
type writeStep struct {
	op        string // short name for error wrapping
	key       string // bot-result operation key
	actLabel  string // progress label while the browser works
	doneLabel string // progress label once the ERP side effect landed
	act       func(ctx domain.Context) (json.RawMessage, error)
	parse     func(raw json.RawMessage) error
	catchUp   func(ctx domain.Context) error
}

// run executes the write protocol: check the bot-result store, skip the
// browser step when a marker exists, otherwise act and save the raw result
// before touching local state; then catch up the local mirror and clear
// the marker. A marker surviving a crash makes the retry idempotent.
func (w *writes) run(ctx domain.Context, inv *domain.Invocation, st writeStep) error {
	saved, err := inv.Recovery.Check(ctx, st.key)
	if err != nil {
		return fmt.Errorf("op=operations.%s: check: %w", st.op, err)
	}

	raw := saved
	replay := saved != nil
	if !replay {
		inv.Progress(10, st.actLabel)
		raw, err = st.act(ctx)
		if err != nil {
			return fmt.Errorf("op=operations.%s: %w", st.op, err)
		}
	}
	if err := st.parse(raw); err != nil {
		return err
	}
	if replay {
		slog.Info("bot result replayed, browser step skipped",
			slog.String("job_id", inv.JobID),
			slog.String("kind", string(inv.Kind)),
			slog.String("operation_key", st.key))
		inv.Progress(60, labelRecovered)
	} else {
		if err := inv.Recovery.Save(ctx, st.key, json.RawMessage(raw)); err != nil {
			return fmt.Errorf("op=operations.%s: save: %w", st.op, err)
		}
		inv.Progress(60, st.doneLabel)
	}

	inv.Progress(80, "Aggiornamento archivio locale")
	if err := st.catchUp(ctx); err != nil {
		return fmt.Errorf("op=operations.%s: catch-up: %w", st.op, err)
	}
	if err := inv.Recovery.Clear(ctx, st.key); err != nil {
		return fmt.Errorf("op=operations.%s: clear: %w", st.op, err)
	}
	inv.Progress(100, "Completato")
	return nil
}

func (w *writes) saveOrder(ctx domain.Context, userID string, res OrderResult) error {
	if err := w.entities.UpsertEntities(ctx, "orders", userID, []domain.EntityRow{{ID: res.OrderID, Data: res.Order}}); err != nil {
		return err
	}
	if len(res.Articles) > 0 {
		return w.entities.ReplaceOrderArticles(ctx, userID, res.OrderID, res.Articles)
	}
	return nil
}

func (w *writes) saveCustomer(ctx domain.Context, userID string, res CustomerResult) error {
	return w.entities.UpsertEntities(ctx, "customers", userID, []domain.EntityRow{{ID: res.CustomerProfile, Data: res.Customer}})
}

// SubmitOrder creates a new order from an office cart.
func (w *writes) SubmitOrder(ctx domain.Context, inv *domain.Invocation) (any, error) {
	tracer := otel.Tracer("operations.writes")
	ctx, span := tracer.Start(ctx, "operations.SubmitOrder")
	defer span.End()

	var p SubmitOrderPayload
	if err := decode(inv.Data, &p); err != nil {
		return nil, err
	}
	var res OrderResult
	err := w.run(ctx, inv, writeStep{
		op:        "submit_order",
		key:       p.CartID,
		actLabel:  "Creazione ordine su Archibald",
		doneLabel: "Ordine creato su Archibald",
		act: func(ctx domain.Context) (json.RawMessage, error) {
			return w.runner.Do(ctx, inv.Browser.SessionID(), "order.submit", p)
		},
		parse: func(raw json.RawMessage) error {
			if err := json.Unmarshal(raw, &res); err != nil {
				return domain.Unrecoverable(fmt.Errorf("op=operations.submit_order: bad runner result: %w", err))
			}
			if res.OrderID == "" {
				return domain.Unrecoverable(fmt.Errorf("op=operations.submit_order: runner result missing orderId: %w", domain.ErrInternal))
			}
			return nil
		},
		catchUp: func(ctx domain.Context) error { return w.saveOrder(ctx, inv.UserID, res) },
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CreateCustomer registers a new customer. The customer name is the
// operation key, so re-running the same registration after a crash replays
// the saved outcome instead of creating a duplicate.
func (w *writes) CreateCustomer(ctx domain.Context, inv *domain.Invocation) (any, error) {
	tracer := otel.Tracer("operations.writes")
	ctx, span := tracer.Start(ctx, "operations.CreateCustomer")
	defer span.End()

	var p CreateCustomerPayload
	if err := decode(inv.Data, &p); err != nil {
		return nil, err
	}
	var res CustomerResult
	err := w.run(ctx, inv, writeStep{
		op:        "create_customer",
		key:       p.Name,
		actLabel:  "Creazione cliente su Archibald",
		doneLabel: "Cliente creato su Archibald",
		act: func(ctx domain.Context) (json.RawMessage, error) {
			return w.runner.Do(ctx, inv.Browser.SessionID(), "customer.create", p)
		},
		parse: func(raw json.RawMessage) error {
			if err := json.Unmarshal(raw, &res); err != nil {
				return domain.Unrecoverable(fmt.Errorf("op=operations.create_customer: bad runner result: %w", err))
			}
			if res.CustomerProfile == "" {
				return domain.Unrecoverable(fmt.Errorf("op=operations.create_customer: runner result missing customerProfile: %w", domain.ErrInternal))
			}
			return nil
		},
		catchUp: func(ctx domain.Context) error { return w.saveCustomer(ctx, inv.UserID, res) },
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateCustomer patches fields of an existing customer.
func (w *writes) UpdateCustomer(ctx domain.Context, inv *domain.Invocation) (any, error) {
	tracer := otel.Tracer("operations.writes")
	ctx, span := tracer.Start(ctx, "operations.UpdateCustomer")
	defer span.End()

	var p UpdateCustomerPayload
	if err := decode(inv.Data, &p); err != nil {
		return nil, err
	}
	var res CustomerResult
	err := w.run(ctx, inv, writeStep{
		op:        "update_customer",
		key:       p.CustomerID,
		actLabel:  "Aggiornamento cliente su Archibald",
		doneLabel: "Cliente aggiornato su Archibald",
		act: func(ctx domain.Context) (json.RawMessage, error) {
			return w.runner.Do(ctx, inv.Browser.SessionID(), "customer.update", p)
		},
		parse: func(raw json.RawMessage) error {
			if err := json.Unmarshal(raw, &res); err != nil {
				return domain.Unrecoverable(fmt.Errorf("op=operations.update_customer: bad runner result: %w", err))
			}
			if res.CustomerProfile == "" {
				res.CustomerProfile = p.CustomerID
			}
			return nil
		},
		catchUp: func(ctx domain.Context) error { return w.saveCustomer(ctx, inv.UserID, res) },
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SendToVerona forwards a held order to the Verona warehouse.
func (w *writes) SendToVerona(ctx domain.Context, inv *domain.Invocation) (any, error) {
	tracer := otel.Tracer("operations.writes")
	ctx, span := tracer.Start(ctx, "operations.SendToVerona")
	defer span.End()

	var p SendToVeronaPayload
	if err := decode(inv.Data, &p); err != nil {
		return nil, err
	}
	var res OrderResult
	err := w.run(ctx, inv, writeStep{
		op:        "send_to_verona",
		key:       p.OrderID,
		actLabel:  "Invio ordine a Verona",
		doneLabel: "Ordine inviato a Verona",
		act: func(ctx domain.Context) (json.RawMessage, error) {
			return w.runner.Do(ctx, inv.Browser.SessionID(), "order.send_to_verona", p)
		},
		parse: func(raw json.RawMessage) error {
			if err := json.Unmarshal(raw, &res); err != nil {
				return domain.Unrecoverable(fmt.Errorf("op=operations.send_to_verona: bad runner result: %w", err))
			}
			if res.OrderID == "" {
				res.OrderID = p.OrderID
			}
			return nil
		},
		catchUp: func(ctx domain.Context) error { return w.saveOrder(ctx, inv.UserID, res) },
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// EditOrder replaces the article lines of an existing order.
func (w *writes) EditOrder(ctx domain.Context, inv *domain.Invocation) (any, error) {
	tracer := otel.Tracer("operations.writes")
	ctx, span := tracer.Start(ctx, "operations.EditOrder")
	defer span.End()

	var p EditOrderPayload
	if err := decode(inv.Data, &p); err != nil {
		return nil, err
	}
	var res OrderResult
	err := w.run(ctx, inv, writeStep{
		op:        "edit_order",
		key:       p.OrderID,
		actLabel:  "Modifica ordine su Archibald",
		doneLabel: "Ordine modificato su Archibald",
		act: func(ctx domain.Context) (json.RawMessage, error) {
			return w.runner.Do(ctx, inv.Browser.SessionID(), "order.edit", p)
		},
		parse: func(raw json.RawMessage) error {
			if err := json.Unmarshal(raw, &res); err != nil {
				return domain.Unrecoverable(fmt.Errorf("op=operations.edit_order: bad runner result: %w", err))
			}
			if res.OrderID == "" {
				res.OrderID = p.OrderID
			}
			return nil
		},
		catchUp: func(ctx domain.Context) error { return w.saveOrder(ctx, inv.UserID, res) },
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteOrder removes an order that has not shipped yet, together with its
// mirrored article lines.
func (w *writes) DeleteOrder(ctx domain.Context, inv *domain.Invocation) (any, error) {
	tracer := otel.Tracer("operations.writes")
	ctx, span := tracer.Start(ctx, "operations.DeleteOrder")
	defer span.End()

	var p DeleteOrderPayload
	if err := decode(inv.Data, &p); err != nil {
		return nil, err
	}
	var res DeleteOrderResult
	err := w.run(ctx, inv, writeStep{
		op:        "delete_order",
		key:       p.OrderID,
		actLabel:  "Eliminazione ordine su Archibald",
		doneLabel: "Ordine eliminato su Archibald",
		act: func(ctx domain.Context) (json.RawMessage, error) {
			return w.runner.Do(ctx, inv.Browser.SessionID(), "order.delete", p)
		},
		parse: func(raw json.RawMessage) error {
			if err := json.Unmarshal(raw, &res); err != nil {
				return domain.Unrecoverable(fmt.Errorf("op=operations.delete_order: bad runner result: %w", err))
			}
			if res.OrderID == "" {
				res.OrderID = p.OrderID
			}
			res.Deleted = true
			return nil
		},
		catchUp: func(ctx domain.Context) error {
			if err := w.entities.DeleteEntity(ctx, "orders", inv.UserID, res.OrderID); err != nil {
				return err
			}
			// drop the mirrored lines too
			return w.entities.ReplaceOrderArticles(ctx, inv.UserID, res.OrderID, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
