// Package postgres implements the session store contracts on PostgreSQL
// through pgx.
//
// # Locking
//
// TokenStore.WithinTx runs its callback in a READ COMMITTED transaction.
// Every write to a family first takes LockFamily, a transaction-scoped
// advisory lock on the family id, so rotations, replays and revocations of one
// family run one after another. Each later statement reads a snapshot taken
// after the lock was granted and so sees rows the previous holder inserted.
// Inside the transaction FindByToken and FindFamilyByID also take row locks
// (FOR UPDATE).
//
// Lock order is always the advisory lock, then rows. RevokeAllForUser takes
// the advisory locks of all the user's families in sorted order before its
// UPDATE.
//
// # Layout
//
// Family metadata is denormalized onto every refresh_tokens row. Family
// revocation is one UPDATE over family_id, never a loop.
package postgres
