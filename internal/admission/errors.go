package admission

import (
	"errors"
	"fmt"
)

// Code is the stable, machine-readable reason the boundary layer maps to a
// client-facing status.
type Code string

const (
	CodeItemNotFound     Code = "ITEM_NOT_FOUND"
	CodeItemNotAvailable Code = "ITEM_NOT_AVAILABLE"
	CodeDuplicateSlot    Code = "DUPLICATE_SLOT"
	CodeOutOfStock       Code = "OUT_OF_STOCK"
	CodeAllocationFailed Code = "ALLOCATION_FAILED"
)

var (
	ErrItemNotFound     = errors.New("item not found")
	ErrItemNotAvailable = errors.New("item not available")
	ErrDuplicateSlot    = errors.New("requester already holds an active slot for this item")
	ErrOutOfStock       = errors.New("out of stock")
	// ErrAllocationFailed covers infrastructure failures and timeouts from
	// the fairness store. Indeterminate: the caller must not retry it as a
	// fresh attempt and must not read it as sold out.
	ErrAllocationFailed = errors.New("allocation failed")
)

// Error is a typed admission failure carrying enough context for the
// boundary layer to answer the client and trace the request.
type Error struct {
	Code          Code
	ItemID        string
	RequesterID   string
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: item=%s requester=%s corr=%s: %v",
		e.Code, e.ItemID, e.RequesterID, e.CorrelationID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, sentinel error, itemID, requesterID, correlationID string) *Error {
	return &Error{
		Code:          code,
		ItemID:        itemID,
		RequesterID:   requesterID,
		CorrelationID: correlationID,
		Err:           sentinel,
	}
}

func wrapError(code Code, sentinel, cause error, itemID, requesterID, correlationID string) *Error {
	return &Error{
		Code:          code,
		ItemID:        itemID,
		RequesterID:   requesterID,
		CorrelationID: correlationID,
		Err:           fmt.Errorf("%w: %v", sentinel, cause),
	}
}
