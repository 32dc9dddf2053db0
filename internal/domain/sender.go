package domain

import (
	"context"
	"errors"
	"fmt"
)

// DeliveryKind classifies a failed delivery.
type DeliveryKind int

const (
	// KindOther covers every failure that does not prove the peer is gone,
	// including timeouts.
	KindOther DeliveryKind = iota
	// KindGone means the endpoint is confirmed closed or expired.
	KindGone
)

func (k DeliveryKind) String() string {
	switch k {
	case KindGone:
		return "gone"
	default:
		return "other"
	}
}

// Sender pushes a payload to a single connection.
type Sender interface {
	Deliver(ctx context.Context, connectionID string, payload []byte) error
}

// DeliveryError is the only error a Sender returns. The kind is set by the
// transport that observed the failure and never derived from error text.
type DeliveryError struct {
	ConnectionID string
	Kind         DeliveryKind
	Err          error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("deliver to %s: %s", e.ConnectionID, e.Kind)
	}
	return fmt.Sprintf("deliver to %s: %s: %v", e.ConnectionID, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrPeerGone and ErrDeliveryFailed by kind.
func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrPeerGone:
		return e.Kind == KindGone
	case ErrDeliveryFailed:
		return e.Kind == KindOther
	}
	return false
}

func GoneError(connectionID string, err error) *DeliveryError {
	return &DeliveryError{ConnectionID: connectionID, Kind: KindGone, Err: err}
}

func OtherError(connectionID string, err error) *DeliveryError {
	return &DeliveryError{ConnectionID: connectionID, Kind: KindOther, Err: err}
}

// KindOf reports the delivery kind of err. Errors that are not a
// *DeliveryError count as KindOther.
func KindOf(err error) DeliveryKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindOther
}
