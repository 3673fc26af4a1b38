package signaling

import "errors"

var (
	ErrInvalidNamespace = errors.New("invalid namespace name")
	// ErrPeerIDExhausted is returned when the id generator keeps producing ids
	// that are active or were recently retired.
	ErrPeerIDExhausted = errors.New("could not allocate a unique peer id")
	ErrRelayClosed     = errors.New("relay closed")
	// ErrPeerGone is returned by send handles whose connection has gone away.
	// The relay treats it as a dropped delivery.
	ErrPeerGone      = errors.New("peer gone")
	ErrUnknownSignal = errors.New("unknown signal")
)
