// Package auth implements the identity and access-control core of the
// facility-management backend: password credentials, bearer-token issuance
// and verification, a bounded per-identity session registry, account
// lockout, the role/capability permission model, and the request-time
// authorization gate.
//
// The package is transport and storage agnostic at its edges. Routing,
// controllers, and database bootstrap belong to the host application; the
// host wires a repository (see RepositoryManager), a session registry, and
// a Config into an Auther and a Gate.
//
// Identity lifecycle:
//   - Identities carry an AccountStatus persisted via Bun. Statuses cover
//     pending, active, inactive, suspended, and blocked so employee
//     confirmation, suspension, and termination flows share one invariant
//     set.
//   - AccountStateMachine centralizes the transition graph, timestamps,
//     hooks, and persistence. Invoke Transition with ActorRef metadata
//     whenever an operator moves an account.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther and the
//     state machine to describe lifecycle, login, logout, and password
//     reset events. Sinks run best-effort (errors are logged) so hosts can
//     forward to a database or queue without blocking authentication.
package auth
