// Package approval stores REQUIRES_APPROVAL outcomes until a human decides
// them.
//
// An approval keeps the signed intent token that was evaluated, so an
// approved action is executed exactly as proposed. Each approval can be
// resolved once: stores implement Resolve as a compare-and-set on the
// PENDING status, and a second decision fails with ErrAlreadyResolved.
//
// Two backends are provided: MemoryStore for tests and single-process use,
// and SQLiteStore for durable queues.
package approval
