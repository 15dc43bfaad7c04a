// Package storage keeps an append-only audit of booking outcomes.
//
// Scheduling state (the daily ledger, notification flags) is never read back
// from here; the audit exists for operators and the status page.
package storage
