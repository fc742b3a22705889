package processor

import (
	"encoding/json"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// boundRecovery scopes the bot-result store to one job's agent and kind,
// so handlers only ever deal in operation keys.
type boundRecovery struct {
	store  domain.BotResultStore
	userID string
	kind   domain.OperationKind
}

var _ domain.Recovery = (*boundRecovery)(nil)

func (b *boundRecovery) Check(ctx domain.Context, operationKey string) (json.RawMessage, error) {
	return b.store.Check(ctx, b.userID, b.kind, operationKey)
}

func (b *boundRecovery) Save(ctx domain.Context, operationKey string, payload any) error {
	return b.store.Save(ctx, b.userID, b.kind, operationKey, payload)
}

func (b *boundRecovery) Clear(ctx domain.Context, operationKey string) error {
	return b.store.Clear(ctx, b.userID, b.kind, operationKey)
}
