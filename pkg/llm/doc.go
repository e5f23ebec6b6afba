// Package llm provides the chat-completion client every LedgerLens analysis
// goes through.
//
// # Request Flow
//
// Complete fingerprints the message list and consults the response cache
// first. A hit returns without contacting the provider. On a miss the client
// calls its current model, writes the response through the cache with a 24h
// TTL and returns it. Cache failures are logged and bypassed; they never fail
// a completion.
//
// # Fallback
//
// When a call on the primary model fails with anything other than an
// authentication error, the client switches to the fallback model, waits the
// configured retry delay (1s by default) and retries once. The switch is
// sticky for the lifetime of the Client: later calls start on the fallback.
// A failure on the fallback model is returned to the caller.
//
// # Errors
//
// Failures are *ProviderError values that match one of ErrTransient,
// ErrAuthentication, ErrQuotaExceeded or ErrRejected with errors.Is.
//
// # Entry Points
//
// NewClient: construct a client from Config and options.
// Client.Complete: cached completion with fallback.
// Client.Model: the model the next call will use.
package llm
