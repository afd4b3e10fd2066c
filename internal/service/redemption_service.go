package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/passlane/pass-redemption/internal/codegen"
	"github.com/passlane/pass-redemption/internal/model"
)

// CodeRepositoryInterface defines the interface for code data access.
type CodeRepositoryInterface interface {
	Insert(ctx context.Context, c *model.Code) error
	FindByCode(ctx context.Context, code string) (*model.Code, error)
	FindByPaymentRef(ctx context.Context, paymentRef string) (*model.Code, error)
	MarkUsed(ctx context.Context, code, ip, ua string) (bool, error)
	VoidByPaymentRef(ctx context.Context, paymentRef string) (int64, error)
}

// Mailer delivers a redemption code to a buyer.
type Mailer interface {
	Send(to, code string) error
}

// CredentialMinter issues download credentials after a successful redemption.
type CredentialMinter interface {
	Mint(ttl time.Duration, holderName string) (string, error)
}

// maxGenerateAttempts bounds the regenerate-on-collision loop. Five misses
// in a row over a 31^6 code space means something is badly wrong with the
// random source, not bad luck.
const maxGenerateAttempts = 5

// maxHolderNameLen caps the display name carried into the credential.
const maxHolderNameLen = 64

// Options tunes code issuance and credential minting.
type Options struct {
	CodeLength int
	CodeTTL    time.Duration // zero means codes never expire
	TokenTTL   time.Duration
}

// RedemptionService owns the code lifecycle: creation on payment,
// voiding on refund, and consumption on redeem.
type RedemptionService struct {
	repo   CodeRepositoryInterface
	mailer Mailer
	minter CredentialMinter
	opts   Options
}

// NewRedemptionService creates a RedemptionService with the given
// collaborators and options. Zero option values fall back to defaults.
func NewRedemptionService(repo CodeRepositoryInterface, mailer Mailer, minter CredentialMinter, opts Options) *RedemptionService {
	if opts.CodeLength <= 0 {
		opts.CodeLength = codegen.PurchaseCodeLength
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 60 * time.Second
	}
	return &RedemptionService{
		repo:   repo,
		mailer: mailer,
		minter: minter,
		opts:   opts,
	}
}

// TokenTTL exposes the configured credential lifetime.
func (s *RedemptionService) TokenTTL() time.Duration {
	return s.opts.TokenTTL
}

// CreateOrGetCode issues a code for a completed payment. It is idempotent:
// retried delivery of the same payment event returns the code created by the
// first delivery instead of minting a second one. When a buyer email is
// known the code is dispatched to it; delivery failures are logged and never
// fail the operation, since the code row already exists.
func (s *RedemptionService) CreateOrGetCode(ctx context.Context, paymentRef, email string, metadata map[string]string) (*model.Code, error) {
	if paymentRef == "" {
		return nil, ErrInvalidRequest
	}

	code, err := s.insertWithRetry(ctx, paymentRef, email, metadata)
	if err != nil {
		return nil, err
	}

	if code.CustomerEmail != "" {
		if err := s.mailer.Send(code.CustomerEmail, code.Code); err != nil {
			log.Error().
				Err(err).
				Str("payment_ref", paymentRef).
				Str("code_id", code.ID).
				Msg("failed to send redemption code email")
		}
	}
	return code, nil
}

func (s *RedemptionService) insertWithRetry(ctx context.Context, paymentRef, email string, metadata map[string]string) (*model.Code, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		value, err := codegen.Generate(s.opts.CodeLength)
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		c := &model.Code{
			ID:            uuid.NewString(),
			Code:          value,
			Status:        model.StatusUnused,
			CustomerEmail: email,
			PaymentRef:    paymentRef,
			Metadata:      metadata,
		}
		if s.opts.CodeTTL > 0 {
			exp := time.Now().Add(s.opts.CodeTTL)
			c.ExpiresAt = &exp
		}

		err = s.repo.Insert(ctx, c)
		switch {
		case err == nil:
			return c, nil
		case errors.Is(err, ErrDuplicatePaymentRef):
			// A code already exists for this payment: retried webhook
			// delivery. Return the existing row instead of a new code.
			existing, ferr := s.repo.FindByPaymentRef(ctx, paymentRef)
			if ferr != nil {
				return nil, fmt.Errorf("load existing code for payment %s: %w", paymentRef, ferr)
			}
			if existing == nil {
				return nil, fmt.Errorf("code for payment %s missing after duplicate insert", paymentRef)
			}
			return existing, nil
		case errors.Is(err, ErrDuplicateCode):
			// Collision on the code value. Try a fresh one.
			continue
		default:
			return nil, fmt.Errorf("insert code: %w", err)
		}
	}
	return nil, ErrCodeSpaceExhausted
}

// VoidCodesForPayment invalidates every UNUSED code bound to the refunded
// payment. Codes already USED stay USED: the artifact was delivered before
// the refund, and that is deliberate policy. Zero matches is not an error;
// refunds can arrive for payments that never produced a code or whose code
// was already consumed.
func (s *RedemptionService) VoidCodesForPayment(ctx context.Context, paymentRef string) (int64, error) {
	if paymentRef == "" {
		return 0, ErrInvalidRequest
	}

	n, err := s.repo.VoidByPaymentRef(ctx, paymentRef)
	if err != nil {
		return 0, fmt.Errorf("void codes: %w", err)
	}
	if n > 0 {
		log.Info().
			Str("payment_ref", paymentRef).
			Int64("voided", n).
			Msg("voided codes after refund")
	}
	return n, nil
}

// Redeem consumes a code and mints a download credential. Validation order:
// unknown code, terminal status, expiry, email match. The UNUSED to USED
// flip is a conditional update in the store, so two concurrent redemptions
// of the same code produce exactly one winner; the loser surfaces as
// ErrCodeAlreadyUsed.
func (s *RedemptionService) Redeem(ctx context.Context, rawCode, email, name, ip, ua string) (string, error) {
	normalized := codegen.Normalize(rawCode)
	if normalized == "" {
		return "", ErrCodeNotFound
	}

	code, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("find code: %w", err)
	}
	if code == nil {
		return "", ErrCodeNotFound
	}
	if code.Status != model.StatusUnused {
		return "", ErrCodeAlreadyUsed
	}
	if code.ExpiresAt != nil && code.ExpiresAt.Before(time.Now()) {
		return "", ErrCodeExpired
	}
	if email != "" && code.CustomerEmail != "" && !strings.EqualFold(email, code.CustomerEmail) {
		return "", ErrEmailMismatch
	}

	won, err := s.repo.MarkUsed(ctx, normalized, ip, ua)
	if err != nil {
		return "", fmt.Errorf("mark code used: %w", err)
	}
	if !won {
		// Lost the race against a concurrent redemption or a refund.
		return "", ErrCodeAlreadyUsed
	}

	token, err := s.minter.Mint(s.opts.TokenTTL, sanitizeHolderName(name))
	if err != nil {
		return "", fmt.Errorf("mint credential: %w", err)
	}

	log.Info().
		Str("code_id", code.ID).
		Str("ip", ip).
		Msg("code redeemed")
	return token, nil
}

func sanitizeHolderName(name string) string {
	name = strings.TrimSpace(name)
	if runes := []rune(name); len(runes) > maxHolderNameLen {
		name = string(runes[:maxHolderNameLen])
	}
	return name
}
