package service

import "errors"

var (
	// ErrCodeNotFound is returned when a submitted code does not exist
	ErrCodeNotFound = errors.New("code not found")

	// ErrCodeAlreadyUsed is returned when a code is already USED or VOID
	ErrCodeAlreadyUsed = errors.New("code already used or voided")

	// ErrCodeExpired is returned when a code is past its expiry deadline
	ErrCodeExpired = errors.New("code expired")

	// ErrEmailMismatch is returned when the submitted email does not match
	// the email the code was issued to
	ErrEmailMismatch = errors.New("email does not match code")

	// ErrDuplicateCode is returned by the repository when a generated code
	// value collides with an existing row
	ErrDuplicateCode = errors.New("code value already exists")

	// ErrDuplicatePaymentRef is returned by the repository when a code
	// already exists for the payment reference
	ErrDuplicatePaymentRef = errors.New("code already issued for payment")

	// ErrCodeSpaceExhausted is returned when repeated generation attempts
	// all collided with existing codes
	ErrCodeSpaceExhausted = errors.New("could not generate a unique code")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")
)
