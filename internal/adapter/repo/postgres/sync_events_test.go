package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/repo/postgres"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

func TestSyncEventRepo_Record(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewSyncEventRepo(pool)

	err := repo.Record(context.Background(), "agent-1", domain.OpSyncOrders, "sync_completed", map[string]int{"pages": 3})
	require.NoError(t, err)

	require.Len(t, pool.execArgs, 1)
	args := pool.execArgs[0]
	require.Len(t, args, 6)
	_, parseErr := uuid.Parse(args[0].(string))
	assert.NoError(t, parseErr, "row id should be a uuid")
	assert.Equal(t, "agent-1", args[1])
	assert.Equal(t, "sync-orders", args[2])
	assert.Equal(t, "sync_completed", args[3])
	assert.JSONEq(t, `{"pages":3}`, string(args[4].([]byte)))
}

func TestSyncEventRepo_Record_NilDetails(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewSyncEventRepo(pool)

	err := repo.Record(context.Background(), "agent-1", domain.OpSyncCustomers, "sync_error", nil)
	require.NoError(t, err)

	require.Len(t, pool.execArgs, 1)
	assert.Nil(t, pool.execArgs[0][4], "nil details should insert SQL NULL")
}

func TestSyncEventRepo_Record_MarshalError(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewSyncEventRepo(pool)

	err := repo.Record(context.Background(), "agent-1", domain.OpSyncOrders, "sync_completed", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=sync_events.record")
	assert.Empty(t, pool.execSQL)
}

func TestSyncEventRepo_Record_DBError(t *testing.T) {
	pool := &poolStub{execErr: assert.AnError}
	repo := postgres.NewSyncEventRepo(pool)

	err := repo.Record(context.Background(), "agent-1", domain.OpSyncOrders, "sync_completed", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=sync_events.record")
}

func syncEventRow(id, userID, syncType, eventType, details string, at time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = userID
		*(dest[2].(*string)) = syncType
		*(dest[3].(*string)) = eventType
		*(dest[4].(*[]byte)) = []byte(details)
		*(dest[5].(*time.Time)) = at
		return nil
	}
}

func TestSyncEventRepo_Recent(t *testing.T) {
	newer := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	pool := &poolStub{rows: &rowsStub{scans: []func(dest ...any) error{
		syncEventRow("ev-2", "agent-1", "sync-orders", "sync_completed", `{"orders":12}`, newer),
		syncEventRow("ev-1", "agent-1", "sync-customers", "sync_error", "null", older),
	}}}
	repo := postgres.NewSyncEventRepo(pool)

	events, err := repo.Recent(context.Background(), "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "ev-2", events[0].ID)
	assert.Equal(t, domain.OpSyncOrders, events[0].SyncType)
	assert.Equal(t, "sync_completed", events[0].EventType)
	assert.JSONEq(t, `{"orders":12}`, string(events[0].Details))
	assert.Equal(t, newer, events[0].CreatedAt)

	assert.Equal(t, "ev-1", events[1].ID)
	assert.Equal(t, domain.OpSyncCustomers, events[1].SyncType)
	assert.Nil(t, events[1].Details, "SQL NULL details come back as nil")

	assert.True(t, pool.rows.closed)
}

func TestSyncEventRepo_Recent_LimitClamped(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"zero falls back", 0, 50},
		{"negative falls back", -3, 50},
		{"over cap falls back", 700, 50},
		{"in range passes through", 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &poolStub{}
			repo := postgres.NewSyncEventRepo(pool)
			_, err := repo.Recent(context.Background(), "agent-1", tt.limit)
			require.NoError(t, err)
			require.Len(t, pool.queryArgs, 1)
			assert.Equal(t, tt.want, pool.queryArgs[0][1])
		})
	}
}

func TestSyncEventRepo_Recent_QueryError(t *testing.T) {
	pool := &poolStub{queryErr: assert.AnError}
	repo := postgres.NewSyncEventRepo(pool)

	_, err := repo.Recent(context.Background(), "agent-1", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=sync_events.recent")
}

func TestSyncEventRepo_Recent_ScanError(t *testing.T) {
	pool := &poolStub{rows: &rowsStub{scans: []func(dest ...any) error{
		func(_ ...any) error { return assert.AnError },
	}}}
	repo := postgres.NewSyncEventRepo(pool)

	_, err := repo.Recent(context.Background(), "agent-1", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=sync_events.recent")
	assert.True(t, pool.rows.closed)
}

func TestSyncEventRepo_Recent_RowsError(t *testing.T) {
	pool := &poolStub{rows: &rowsStub{err: assert.AnError}}
	repo := postgres.NewSyncEventRepo(pool)

	_, err := repo.Recent(context.Background(), "agent-1", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=sync_events.recent")
}
