package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrNotOwned      = "E_NOT_OWNED"
	ErrNotAtOrigin   = "E_NOT_AT_ORIGIN"
	ErrNotMobile     = "E_NOT_MOBILE"
	ErrCargoOver     = "E_CARGO_OVER"
	ErrQueueFull     = "E_QUEUE_FULL"
	ErrBusy          = "E_BUSY"
	ErrConflict      = "E_CONFLICT"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrEliminated    = "E_ELIMINATED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrNoResource:      {},
	ErrInvalidTarget:   {},
	ErrNotOwned:        {},
	ErrNotAtOrigin:     {},
	ErrNotMobile:       {},
	ErrCargoOver:       {},
	ErrQueueFull:       {},
	ErrBusy:            {},
	ErrConflict:        {},
	ErrRateLimit:       {},
	ErrEliminated:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
