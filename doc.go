// Package bgops is an orchestration core for background operations. It
// provides two tightly coupled guarantees for distributed request
// processing: idempotent execution of client-triggered operations under
// at-least-once delivery, and multi-step saga workflows with per-step
// retry and reverse-order compensation on failure.
//
// Bgops is designed as a library, not a service. Import it, configure a
// store, register operation and compensation handlers, and drive sagas
// and idempotency keys through the manager facade.
//
// # Quick Start
//
//	s := memory.New()
//	m, err := manager.New(s)
//	if err != nil { ... }
//	m.RegisterOperationHandler("charge", chargeHandler)
//	m.RegisterCompensationHandler("refund", refundHandler)
//
// # Architecture
//
// Bgops follows a composable store pattern where each subsystem
// (idempotency, saga, operation) defines its own store interface.
// A single backend implements all of them; memory, Redis and PostgreSQL
// backends ship with the module. The in-memory backend provides
// single-process lock exclusion only; multi-node deployments need a
// backend whose lock acquisition is genuinely distributed (Redis SET NX,
// Postgres conditional upsert).
//
// Saga, step, operation and history IDs use TypeID: type-prefixed,
// K-sortable, UUIDv7-based identifiers. Idempotency keys are plain
// strings: either caller-supplied or a deterministic hash of the request.
package bgops
