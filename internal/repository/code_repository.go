package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/passlane/pass-redemption/internal/model"
	"github.com/passlane/pass-redemption/internal/service"
)

// PoolInterface defines the database operations needed by the repository.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CodeRepository provides data access for redemption codes using pgx.
type CodeRepository struct {
	pool PoolInterface
}

// NewCodeRepository creates a new CodeRepository with the given pool.
func NewCodeRepository(pool *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

// NewCodeRepositoryWithPool creates a new CodeRepository with a custom pool
// interface. This is primarily used for testing.
func NewCodeRepositoryWithPool(pool PoolInterface) *CodeRepository {
	return &CodeRepository{pool: pool}
}

const codeColumns = `id, code, status, customer_email, payment_ref, expires_at, used_at, redeem_ip, redeem_ua, metadata, created_at`

// Insert inserts a new code row.
// Returns service.ErrDuplicateCode when the code value collides with an
// existing row, and service.ErrDuplicatePaymentRef when a code already
// exists for the payment reference. Both constraints live in the database,
// so concurrent creation attempts are arbitrated atomically there.
func (r *CodeRepository) Insert(ctx context.Context, c *model.Code) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO codes (id, code, status, customer_email, payment_ref, expires_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Code, c.Status, nullIfEmpty(c.CustomerEmail), nullIfEmpty(c.PaymentRef), c.ExpiresAt, c.Metadata)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "payment_ref") {
				return service.ErrDuplicatePaymentRef
			}
			return service.ErrDuplicateCode
		}
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

// FindByCode retrieves a code row by its code value.
// Returns nil, nil if no row exists (service layer handles this).
func (r *CodeRepository) FindByCode(ctx context.Context, code string) (*model.Code, error) {
	return r.findOne(ctx, `SELECT `+codeColumns+` FROM codes WHERE code = $1`, code)
}

// FindByPaymentRef retrieves the code bound to a payment reference.
// Returns nil, nil if no row exists.
func (r *CodeRepository) FindByPaymentRef(ctx context.Context, paymentRef string) (*model.Code, error) {
	return r.findOne(ctx, `SELECT `+codeColumns+` FROM codes WHERE payment_ref = $1`, paymentRef)
}

func (r *CodeRepository) findOne(ctx context.Context, query string, arg any) (*model.Code, error) {
	var (
		c     model.Code
		email *string
		ref   *string
		ip    *string
		ua    *string
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID,
		&c.Code,
		&c.Status,
		&email,
		&ref,
		&c.ExpiresAt,
		&c.UsedAt,
		&ip,
		&ua,
		&c.Metadata,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("find code: %w", err)
	}
	c.CustomerEmail = deref(email)
	c.PaymentRef = deref(ref)
	c.RedeemIP = deref(ip)
	c.RedeemUA = deref(ua)
	return &c, nil
}

// MarkUsed flips an UNUSED code to USED, stamping the redemption timestamp
// and audit fields. The status predicate makes this a compare-and-swap:
// under concurrent redemption of the same code, exactly one caller gets
// true back.
func (r *CodeRepository) MarkUsed(ctx context.Context, code, ip, ua string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE codes SET status = $2, used_at = now(), redeem_ip = $3, redeem_ua = $4
		 WHERE code = $1 AND status = $5`,
		code, model.StatusUsed, nullIfEmpty(ip), nullIfEmpty(ua), model.StatusUnused)
	if err != nil {
		return false, fmt.Errorf("mark code used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// VoidByPaymentRef transitions every UNUSED code bound to the payment
// reference to VOID and returns the number of rows voided. Codes already
// USED are left untouched by the status predicate.
func (r *CodeRepository) VoidByPaymentRef(ctx context.Context, paymentRef string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE codes SET status = $2 WHERE payment_ref = $1 AND status = $3`,
		paymentRef, model.StatusVoid, model.StatusUnused)
	if err != nil {
		return 0, fmt.Errorf("void codes for payment %s: %w", paymentRef, err)
	}
	return tag.RowsAffected(), nil
}

// nullIfEmpty stores empty strings as NULL so the nullable-unique constraint
// on payment_ref behaves.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
