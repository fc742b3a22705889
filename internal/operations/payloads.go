package operations

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// decode unmarshals and validates a handler payload. Failures are marked
// unrecoverable: a malformed payload never gets better on retry.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return domain.Unrecoverable(fmt.Errorf("op=operations.decode: empty payload: %w", domain.ErrInvalidArgument))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.Unrecoverable(fmt.Errorf("op=operations.decode: %w", err))
	}
	if err := getValidator().Struct(v); err != nil {
		return domain.Unrecoverable(fmt.Errorf("op=operations.decode: %w: %w", domain.ErrInvalidArgument, err))
	}
	return nil
}

// OrderLine is one article line the office client puts in a cart.
type OrderLine struct {
	ArticleID string `json:"articleId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Notes     string `json:"notes,omitempty"`
}

// SubmitOrderPayload creates a new order from an office cart. CartID is the
// client-side temporary id and doubles as the recovery operation key.
type SubmitOrderPayload struct {
	CartID     string      `json:"cartId" validate:"required"`
	CustomerID string      `json:"customerId" validate:"required"`
	Articles   []OrderLine `json:"articles" validate:"required,min=1,dive"`
	Notes      string      `json:"notes,omitempty"`
}

// CreateCustomerPayload registers a customer in the ERP. The name is the
// recovery operation key, so re-submitting the same name after a crash
// replays instead of duplicating.
type CreateCustomerPayload struct {
	Name      string `json:"name" validate:"required"`
	VatNumber string `json:"vatNumber,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Province  string `json:"province,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
}

// UpdateCustomerPayload patches fields of an existing customer.
type UpdateCustomerPayload struct {
	CustomerID string         `json:"customerId" validate:"required"`
	Fields     map[string]any `json:"fields" validate:"required,min=1"`
}

// SendToVeronaPayload forwards a held order to the Verona warehouse.
type SendToVeronaPayload struct {
	OrderID string `json:"orderId" validate:"required"`
}

// EditOrderPayload replaces the article lines of an existing order.
type EditOrderPayload struct {
	OrderID  string      `json:"orderId" validate:"required"`
	Articles []OrderLine `json:"articles" validate:"required,min=1,dive"`
	Notes    string      `json:"notes,omitempty"`
}

// DeleteOrderPayload removes an order that has not shipped yet.
type DeleteOrderPayload struct {
	OrderID string `json:"orderId" validate:"required"`
}

// DownloadPayload identifies the document to fetch.
type DownloadPayload struct {
	DocumentNumber string `json:"documentNumber" validate:"required"`
}

// SyncOrderArticlesPayload refreshes the article lines of one order.
type SyncOrderArticlesPayload struct {
	OrderID string `json:"orderId" validate:"required"`
}

// BulkSyncPayload optionally tunes a scheduled sync. The empty payload is
// valid; scheduled enqueues send none.
type BulkSyncPayload struct {
	PageSize int `json:"pageSize,omitempty" validate:"omitempty,gt=0,lte=500"`
}
