// Package antler implements a forward-chaining production rule engine.
//
// A Flow is an immutable container of rules. Each rule is a named set of
// ordered conditions (typed predicates over facts) plus an action to run
// when all conditions hold simultaneously. A Session is one running
// instance of a Flow: it owns working memory (the fact store), the live
// state of the discrimination network, and the agenda of pending
// activations.
//
// ARCHITECTURE:
//
// Synchronous propagation:
// Every Assert/Retract/Modify drives the discrimination network before
// returning, so the agenda is consistent with working memory at every
// observable point between calls. There is no deferred batching and no
// event queue between the caller and the matcher.
//
// Fact change flow:
//  1. Caller asserts, modifies, or retracts a fact
//  2. The fact store records the change and stamps a sequence number
//  3. The change propagates through the network, which only touches the
//     condition slots registered for the fact's type tag
//  4. Completed matches become activations on the agenda; matches that
//     lose a supporting fact are retracted from the agenda
//  5. MatchRules/MatchUntilHalt pop and fire activations, whose actions
//     may mutate facts and feed back into step 1 within the same call
//
// Single-writer model:
// A Session's internal state machine is single-threaded. Callers must
// serialize all operations on one Session; the incremental join state
// depends on strict ordering of insert/remove events. Independent
// Sessions spawned from the same Flow share only the immutable rule
// definitions and may run concurrently.
//
// Conflict resolution is deterministic: agenda-group focus order first,
// then rule priority descending, then activation insertion sequence
// ascending. No randomness, no wall-clock ordering.
package antler
