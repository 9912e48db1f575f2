package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors
// so callers can classify with errors.Is without knowing venue error codes.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrExchangeUnavailable    = errors.New("exchange API is unavailable")
	ErrConnectionFailed       = errors.New("failed to connect to the exchange")
	ErrRateLimited            = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed   = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys         = errors.New("invalid API keys or permissions")
	ErrInsufficientMargin     = errors.New("insufficient margin for operation")
	ErrOrderNotFound          = errors.New("order not found on the exchange")
	ErrPositionNotFound       = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed   = errors.New("failed to place order")
	ErrOrderCancelFailed      = errors.New("failed to cancel order")
	ErrSymbolUnsupported      = errors.New("symbol is not listed or not trading")
	ErrQtyOutOfBounds         = errors.New("quantity outside the symbol's LOT_SIZE bounds")
	ErrNotionalTooSmall       = errors.New("order notional below the symbol's minimum")
	ErrWouldImmediatelyTrigger = errors.New("stop order would trigger immediately")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
	ErrWriteOnce      = errors.New("write-once field already set")
)
