// Package gateway implements the AI generation gateway shared by all
// tenant keyboard applications: a provider abstraction with a
// per-tenant priority-ordered pool, a failover orchestrator, and a
// TTL response cache in front of it.
//
// The gateway never talks to the outer transport directly. Callers
// construct a [Service] at the composition root and hand it a
// [GenerateRequest]; they get back a [GenerateResponse] from exactly
// one backend, or a typed [*Error] with a stable code.
package gateway
