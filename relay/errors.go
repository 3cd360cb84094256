package relay

import "errors"

var (
	// ErrSimulation is returned when the Soroban simulation itself reports a
	// domain error; never retried.
	ErrSimulation = errors.New("relay: simulation error")

	// ErrTerminal wraps a relay-gateway failure whose message did not match
	// any retryable token; the attempt loop gives up immediately.
	ErrTerminal = errors.New("relay: terminal error")

	// ErrExhausted is returned once all retry attempts have been spent
	// against retryable errors.
	ErrExhausted = errors.New("relay: retries exhausted")
)

// retryableTokens are matched case-insensitively against an error's message.
var retryableTokens = []string{
	"not_found",
	"timeout",
	"econnreset",
	"enotfound",
	"etimedout",
	"fetch failed",
	"network error",
}
