// Package domain defines the core types and ports of the Archibald
// operation scheduler: the closed operation registry, the queue job
// envelope, lifecycle events, the handler contract and the error taxonomy.
//
// The package has no dependencies on adapters; adapters implement the
// ports declared here and the processor orchestrates them.
package domain

import (
	"context"
	"sort"
	"time"
)

// OperationKind identifies one of the fifteen operations the backend can
// run against Archibald. The set is closed: every kind is registered in
// this file and Valid rejects anything else at the system boundary.
type OperationKind string

const (
	OpSubmitOrder        OperationKind = "submit-order"
	OpCreateCustomer     OperationKind = "create-customer"
	OpUpdateCustomer     OperationKind = "update-customer"
	OpSendToVerona       OperationKind = "send-to-verona"
	OpEditOrder          OperationKind = "edit-order"
	OpDeleteOrder        OperationKind = "delete-order"
	OpDownloadDDTPDF     OperationKind = "download-ddt-pdf"
	OpDownloadInvoicePDF OperationKind = "download-invoice-pdf"
	OpSyncOrderArticles  OperationKind = "sync-order-articles"
	OpSyncCustomers      OperationKind = "sync-customers"
	OpSyncOrders         OperationKind = "sync-orders"
	OpSyncDDT            OperationKind = "sync-ddt"
	OpSyncInvoices       OperationKind = "sync-invoices"
	OpSyncProducts       OperationKind = "sync-products"
	OpSyncPrices         OperationKind = "sync-prices"
)

// OperationClass groups kinds by scheduling behaviour. Only scheduled
// syncs may be preempted, and only writes may preempt them.
type OperationClass string

const (
	ClassWrite         OperationClass = "write"
	ClassPerOrderRead  OperationClass = "per-order-read"
	ClassPerOrderSync  OperationClass = "per-order-sync"
	ClassScheduledSync OperationClass = "scheduled-sync"
)

// OperationSpec is one registry row: scheduling priority (1 is the most
// urgent), classification and the hard handler timeout.
type OperationSpec struct {
	Priority int
	Class    OperationClass
	Timeout  time.Duration
}

// registry is the single source of truth for operation attributes.
// Priorities are dense and unique so queue ordering is total.
var registry = map[OperationKind]OperationSpec{
	OpSubmitOrder:        {Priority: 1, Class: ClassWrite, Timeout: 120 * time.Second},
	OpCreateCustomer:     {Priority: 2, Class: ClassWrite, Timeout: 90 * time.Second},
	OpUpdateCustomer:     {Priority: 3, Class: ClassWrite, Timeout: 90 * time.Second},
	OpSendToVerona:       {Priority: 4, Class: ClassWrite, Timeout: 120 * time.Second},
	OpEditOrder:          {Priority: 5, Class: ClassWrite, Timeout: 120 * time.Second},
	OpDeleteOrder:        {Priority: 6, Class: ClassWrite, Timeout: 60 * time.Second},
	OpDownloadDDTPDF:     {Priority: 7, Class: ClassPerOrderRead, Timeout: 120 * time.Second},
	OpDownloadInvoicePDF: {Priority: 8, Class: ClassPerOrderRead, Timeout: 120 * time.Second},
	OpSyncOrderArticles:  {Priority: 9, Class: ClassPerOrderSync, Timeout: 180 * time.Second},
	OpSyncCustomers:      {Priority: 10, Class: ClassScheduledSync, Timeout: 10 * time.Minute},
	OpSyncOrders:         {Priority: 11, Class: ClassScheduledSync, Timeout: 15 * time.Minute},
	OpSyncDDT:            {Priority: 12, Class: ClassScheduledSync, Timeout: 10 * time.Minute},
	OpSyncInvoices:       {Priority: 13, Class: ClassScheduledSync, Timeout: 10 * time.Minute},
	OpSyncProducts:       {Priority: 14, Class: ClassScheduledSync, Timeout: 15 * time.Minute},
	OpSyncPrices:         {Priority: 15, Class: ClassScheduledSync, Timeout: 15 * time.Minute},
}

// Valid reports whether kind is a registered operation.
func Valid(kind OperationKind) bool {
	_, ok := registry[kind]
	return ok
}

// Spec returns the registry row for kind.
func Spec(kind OperationKind) (OperationSpec, bool) {
	s, ok := registry[kind]
	return s, ok
}

// Kinds returns all registered kinds ordered by priority.
func Kinds() []OperationKind {
	out := make([]OperationKind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return registry[out[i]].Priority < registry[out[j]].Priority })
	return out
}

// Priority returns the scheduling priority of kind, or 0 for an
// unregistered kind.
func Priority(kind OperationKind) int { return registry[kind].Priority }

// Timeout returns the hard handler timeout for kind, or 0 for an
// unregistered kind.
func Timeout(kind OperationKind) time.Duration { return registry[kind].Timeout }

// Class returns the scheduling class of kind.
func Class(kind OperationKind) OperationClass { return registry[kind].Class }

// IsWrite reports whether kind mutates ERP state.
func IsWrite(kind OperationKind) bool { return registry[kind].Class == ClassWrite }

// IsScheduledSync reports whether kind is one of the six bulk syncs.
// The per-order sync-order-articles is deliberately excluded: it is never
// preempted in favour of a write and never preempts anything itself.
func IsScheduledSync(kind OperationKind) bool { return registry[kind].Class == ClassScheduledSync }

// Preemptable reports whether a running job of kind current must yield to
// an incoming job of kind incoming on the same agent. This is the only
// preemption rule in the system.
func Preemptable(current, incoming OperationKind) bool {
	return IsScheduledSync(current) && IsWrite(incoming)
}

const (
	syncRetryBaseDelay = 30 * time.Second
	pdfRetryDelay      = 5 * time.Second
)

// MaxRetry returns how many times the queue re-runs a failed job of kind:
// scheduled syncs three times, PDF downloads twice, everything else never.
// Unrecoverable failures bypass this entirely.
func MaxRetry(kind OperationKind) int {
	switch registry[kind].Class {
	case ClassScheduledSync:
		return 3
	case ClassPerOrderRead:
		return 2
	default:
		return 0
	}
}

// RetryDelay returns the queue-level delay before retry n (1-based) of a
// failed job of kind. Scheduled syncs back off exponentially from 30s,
// PDF downloads retry on a fixed 5s delay.
func RetryDelay(kind OperationKind, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	switch registry[kind].Class {
	case ClassScheduledSync:
		return syncRetryBaseDelay << (n - 1)
	case ClassPerOrderRead:
		return pdfRetryDelay
	default:
		return 0
	}
}

// Context is an alias so domain signatures stay decoupled from the std
// context package at call sites; adapters pass context.Context through.
type Context = context.Context
