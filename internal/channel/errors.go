package channel

import "errors"

var (
	// ErrUnauthorized indicates a failed webhook signature or secret check.
	ErrUnauthorized = errors.New("webhook request not authorized")
	// ErrChannelConfigNotFound indicates an unknown channel config id.
	ErrChannelConfigNotFound = errors.New("channel config not found")
	// ErrDelivery indicates an outbound platform API failure.
	ErrDelivery = errors.New("outbound delivery failed")
	// ErrStreamingNotSupported is returned when a streaming capability is
	// invoked on an adapter that does not provide one.
	ErrStreamingNotSupported = errors.New("streaming not supported")
)
