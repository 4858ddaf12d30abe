// Package models defines the core domain models for the shared ledger.
//
// # Entities
//
//   - Group: a shared ledger with a permission policy
//   - Membership: a user's role and status inside a group
//   - Expense: a payment by one member split among participants
//   - Settlement: a payment from one member to another that clears debt
//   - ShareLink: a bearer invitation that lets a user join a group
//   - NotificationRecord: per-user change counters used to drive client refetches
//
// # Versioning
//
// Every mutable entity carries a Version that starts at 1 on creation and is
// incremented by exactly one on each committed write. Callers pass the version they
// last read as the expected version of an update; a mismatch is a concurrent update.
//
// # Soft delete
//
// Groups, expenses and settlements are never removed; DeletedAt/DeletedBy mark them
// and every read path filters them out.
//
// # Money
//
// Amounts are decimal.Decimal and are always expressed at or below the precision
// of their currency. Balances are never stored; they are recomputed from the live
// expense and settlement set.
package models
