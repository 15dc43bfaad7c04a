// Package booking runs the daily reservation race.
//
// # Cycle
//
// Scheduler computes the next Plan from the trigger hours, sleeps until its
// wake time and, for dispatch plans, runs one account task per eligible
// account behind a weighted semaphore. Outcomes update the daily ledger, go to
// the audit store and the event bus, and are reported through the notifier.
//
// # Account task
//
// RunAccountTask polls balance up to Frequency rounds, firing three concurrent
// attempts on the first round and whenever balance is reported. A final
// reservation check decides the outcome.
//
// # Expiry sweep
//
// Sweeper evaluates every active account's credential on a fixed interval and
// forwards one-shot warnings from the guard.
package booking
