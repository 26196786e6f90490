package tokenfactory

import "errors"

var (
	ErrUnauthorized        = errors.New("tokenfactory: only the factory authority can call")
	ErrInvalidAmount       = errors.New("tokenfactory: amount must be greater than zero")
	ErrInvalidUnderlying   = errors.New("tokenfactory: invalid underlying token")
	ErrWrongTokenKind      = errors.New("tokenfactory: token kind mismatch")
	ErrSYTokenMatured      = errors.New("tokenfactory: sy token has matured")
	ErrPTNotMatured        = errors.New("tokenfactory: pt token has not matured")
	ErrNoPTToRedeem        = errors.New("tokenfactory: no pt tokens to redeem")
	ErrInsufficientSY      = errors.New("tokenfactory: insufficient sy balance")
	ErrInsufficientPT      = errors.New("tokenfactory: insufficient pt balance")
	ErrInsufficientYT      = errors.New("tokenfactory: insufficient yt balance")
	ErrTransferFailed      = errors.New("tokenfactory: ledger transfer failed")
	ErrLedgerNotConfigured = errors.New("tokenfactory: transfer ledger not configured")
)
