// Package payflow orchestrates conditional, multi-step payment workflows
// driven by the x402 pay-per-access protocol: probe a URL, discover the
// payment demand in its 402 response, and walk that payment through
// approval, execution intent, and confirmation.
//
// The package never moves money. Execution intents are emitted as messages
// for an external executor, and settlement outcomes are reported back via
// the confirmation operations. State lives in process memory only; the
// surrounding service owns persistence, authentication, and retries.
//
// Three workflow engines share the session machinery:
//
//   - SessionRunner drives a single payment, optionally with one advisory
//     negotiation pass before the approval gate.
//   - BatchRunner fans the same flow out over an ordered list of payment
//     legs with per-leg confirmation and partial-failure tolerance.
//   - Scheduler owns recurring/scheduled payment definitions and decides,
//     per externally triggered cycle, which are due to fire.
package payflow
