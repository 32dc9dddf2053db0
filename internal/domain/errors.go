package domain

import "errors"

var (
	// ErrStoreUnavailable wraps any failure of the connection store or tenant directory backend.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPeerGone marks a delivery whose endpoint is confirmed closed or expired.
	ErrPeerGone = errors.New("peer gone")
	// ErrDeliveryFailed marks a delivery that failed for any reason other than a gone peer.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrAuthFailed is returned when tenant credentials do not match.
	ErrAuthFailed = errors.New("authentication failed")

	ErrTenantNotFound     = errors.New("tenant not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidConnection  = errors.New("invalid connection id")
)
