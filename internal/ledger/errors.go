package ledger

import "errors"

var (
	// ErrNotFound: the operation targeted a token/id with no matching record.
	ErrNotFound = errors.New("purchase record not found")

	// ErrConflict: a conditional write found the record in an unexpected
	// status (or a duplicate token on create). Never silently overwritten.
	ErrConflict = errors.New("purchase record status conflict")
)
