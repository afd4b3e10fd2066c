package model

import "time"

// Code status lifecycle. USED and VOID are terminal: a code never leaves
// either state.
const (
	StatusUnused = "UNUSED"
	StatusUsed   = "USED"
	StatusVoid   = "VOID"
)

// Code is a single-use redemption code bound to one payment.
type Code struct {
	ID            string
	Code          string
	Status        string
	CustomerEmail string // empty when the payment event carried no email
	PaymentRef    string // idempotency key; unique per payment when set
	ExpiresAt     *time.Time
	UsedAt        *time.Time
	RedeemIP      string
	RedeemUA      string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// RedeemRequest is the DTO for POST /api/redeem
type RedeemRequest struct {
	Code  string `json:"code" validate:"required,notblank,max=64"`
	Email string `json:"email" validate:"omitempty,email,max=255"`
	Name  string `json:"name" validate:"omitempty,max=255"`
}

// RedeemResponse carries the minted download credential back to the buyer.
type RedeemResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}
