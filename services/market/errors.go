package market

import "errors"

// Error kinds with distinct propagation rules. Callers route on these with
// errors.Is; wrapped messages carry the URL, row index, or attempt count.
var (
	// ErrInvalidInput marks a bad symbol, timeframe, date string, or range
	// ordering. Surfaced immediately, no side effects.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSourceUnavailable marks an unrecoverable 4xx for a specific URL,
	// commonly a 404 for the in-progress month. The archive is skipped.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrTransport marks a network error, timeout, or 5xx that survived the
	// retry budget.
	ErrTransport = errors.New("transport failure")

	// ErrRateLimited marks a 418/429 from the REST API. Retried honoring
	// Retry-After; surfaced as ErrTransport once the budget is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrDecode marks an unreadable archive, unexpected member count, or an
	// unparseable row schema. The archive is skipped.
	ErrDecode = errors.New("decode failure")

	// ErrInvariant marks a row failing the OHLCV invariants. The row is
	// dropped and counted in the corruption log.
	ErrInvariant = errors.New("invariant violation")

	// ErrStore marks an insert or query rejected by ClickHouse. Surfaced;
	// the caller retries at request level, which is idempotent.
	ErrStore = errors.New("store failure")
)
