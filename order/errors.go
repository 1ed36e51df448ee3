package order

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIntent     = errors.New("invalid intent")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidReport     = errors.New("invalid venue report")
	ErrRiskRejected      = errors.New("risk rejected")
	ErrVenueReject       = errors.New("venue rejected")
	ErrHalted            = errors.New("oms halted")

	// ErrInvariant marks an internal-consistency violation. It is fatal to the platform.
	ErrInvariant = errors.New("oms invariant violated")
)

// RejectError is returned by Submit (risk) and recorded on the order (risk or venue).
type RejectError struct {
	OrderID ID
	Source  RejectSource
	Reason  RejectReason
	Detail  string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("order %d rejected by %s: %s", e.OrderID, e.Source, e.Reason)
	}
	return fmt.Sprintf("order %d rejected by %s: %s (%s)", e.OrderID, e.Source, e.Reason, e.Detail)
}

func (e *RejectError) Unwrap() error {
	if e.Source == SourceVenue {
		return ErrVenueReject
	}
	return ErrRiskRejected
}

// IsFatal reports whether err signals a broken OMS/PositionBook invariant.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariant)
}
