// Package harness turns scenario runs into deterministic trace
// snapshots and compares them against golden files.
//
// Fact identities are process-global and differ between runs, so the
// snapshot remaps them to dense per-trace indices (f1, f2, ...) in
// first-appearance order. Everything else in a trace — sequence numbers,
// rule names, canonical payload JSON — is already deterministic under
// the session's logical clock.
//
// Golden files live in testdata/golden and are refreshed with:
//
//	go test ./internal/harness -update
package harness
