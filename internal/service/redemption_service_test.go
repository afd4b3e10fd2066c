package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passlane/pass-redemption/internal/model"
)

// mockCodeRepository is a mock implementation of CodeRepositoryInterface.
type mockCodeRepository struct {
	insertFn           func(ctx context.Context, c *model.Code) error
	findByCodeFn       func(ctx context.Context, code string) (*model.Code, error)
	findByPaymentRefFn func(ctx context.Context, paymentRef string) (*model.Code, error)
	markUsedFn         func(ctx context.Context, code, ip, ua string) (bool, error)
	voidByPaymentRefFn func(ctx context.Context, paymentRef string) (int64, error)
}

func (m *mockCodeRepository) Insert(ctx context.Context, c *model.Code) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, c)
	}
	return nil
}

func (m *mockCodeRepository) FindByCode(ctx context.Context, code string) (*model.Code, error) {
	if m.findByCodeFn != nil {
		return m.findByCodeFn(ctx, code)
	}
	return nil, nil
}

func (m *mockCodeRepository) FindByPaymentRef(ctx context.Context, paymentRef string) (*model.Code, error) {
	if m.findByPaymentRefFn != nil {
		return m.findByPaymentRefFn(ctx, paymentRef)
	}
	return nil, nil
}

func (m *mockCodeRepository) MarkUsed(ctx context.Context, code, ip, ua string) (bool, error) {
	if m.markUsedFn != nil {
		return m.markUsedFn(ctx, code, ip, ua)
	}
	return true, nil
}

func (m *mockCodeRepository) VoidByPaymentRef(ctx context.Context, paymentRef string) (int64, error) {
	if m.voidByPaymentRefFn != nil {
		return m.voidByPaymentRefFn(ctx, paymentRef)
	}
	return 0, nil
}

// mockMailer is a mock implementation of Mailer.
type mockMailer struct {
	sendFn func(to, code string) error
	calls  []string
}

func (m *mockMailer) Send(to, code string) error {
	m.calls = append(m.calls, to)
	if m.sendFn != nil {
		return m.sendFn(to, code)
	}
	return nil
}

// mockMinter is a mock implementation of CredentialMinter.
type mockMinter struct {
	mintFn func(ttl time.Duration, holderName string) (string, error)
}

func (m *mockMinter) Mint(ttl time.Duration, holderName string) (string, error) {
	if m.mintFn != nil {
		return m.mintFn(ttl, holderName)
	}
	return "test-token", nil
}

func newService(repo *mockCodeRepository, mailer *mockMailer, minter *mockMinter, opts Options) *RedemptionService {
	if mailer == nil {
		mailer = &mockMailer{}
	}
	if minter == nil {
		minter = &mockMinter{}
	}
	return NewRedemptionService(repo, mailer, minter, opts)
}

func TestCreateOrGetCode_Success(t *testing.T) {
	var captured *model.Code
	repo := &mockCodeRepository{
		insertFn: func(ctx context.Context, c *model.Code) error {
			captured = c
			return nil
		},
	}
	mailer := &mockMailer{}

	svc := newService(repo, mailer, nil, Options{})
	code, err := svc.CreateOrGetCode(context.Background(), "pi_123", "a@x.com", map[string]string{"sku": "pass"})

	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, captured, code)
	assert.NotEmpty(t, captured.ID)
	assert.Len(t, captured.Code, 6, "default purchase code length")
	assert.Equal(t, model.StatusUnused, captured.Status)
	assert.Equal(t, "pi_123", captured.PaymentRef)
	assert.Equal(t, "a@x.com", captured.CustomerEmail)
	assert.Equal(t, map[string]string{"sku": "pass"}, captured.Metadata)
	assert.Nil(t, captured.ExpiresAt, "no expiry unless CodeTTL is configured")
	assert.Equal(t, []string{"a@x.com"}, mailer.calls, "code should be mailed to the buyer")
}

func TestCreateOrGetCode_NoEmail(t *testing.T) {
	repo := &mockCodeRepository{}
	mailer := &mockMailer{}

	svc := newService(repo, mailer, nil, Options{})
	code, err := svc.CreateOrGetCode(context.Background(), "pi_123", "", nil)

	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Empty(t, mailer.calls, "no email known, nothing to send")
}

func TestCreateOrGetCode_EmptyPaymentRef(t *testing.T) {
	svc := newService(&mockCodeRepository{}, nil, nil, Options{})

	code, err := svc.CreateOrGetCode(context.Background(), "", "a@x.com", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Nil(t, code)
}

func TestCreateOrGetCode_IdempotentOnDuplicatePayment(t *testing.T) {
	existing := &model.Code{
		ID:            "id-1",
		Code:          "AB2CD3",
		Status:        model.StatusUnused,
		PaymentRef:    "pi_123",
		CustomerEmail: "a@x.com",
	}
	inserts := 0
	repo := &mockCodeRepository{
		insertFn: func(ctx context.Context, c *model.Code) error {
			inserts++
			return ErrDuplicatePaymentRef
		},
		findByPaymentRefFn: func(ctx context.Context, paymentRef string) (*model.Code, error) {
			assert.Equal(t, "pi_123", paymentRef)
			return existing, nil
		},
	}
	mailer := &mockMailer{}

	svc := newService(repo, mailer, nil, Options{})
	code, err := svc.CreateOrGetCode(context.Background(), "pi_123", "a@x.com", nil)

	require.NoError(t, err)
	assert.Equal(t, existing, code, "retried delivery returns the original code")
	assert.Equal(t, 1, inserts, "payment duplication must not trigger the collision retry loop")
	assert.Equal(t, []string{"a@x.com"}, mailer.calls, "resending the same code is legitimate")
}

func TestCreateOrGetCode_RetriesOnCodeCollision(t *testing.T) {
	var generated []string
	attempts := 0
	repo := &mockCodeRepository{
		insertFn: func(ctx context.Context, c *model.Code) error {
			generated = append(generated, c.Code)
			attempts++
			if attempts == 1 {
				return ErrDuplicateCode
			}
			return nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	code, err := svc.CreateOrGetCode(context.Background(), "pi_123", "", nil)

	require.NoError(t, err)
	require.NotNil(t, code)
	require.Len(t, generated, 2)
	assert.NotEqual(t, generated[0], generated[1], "collision must produce a fresh candidate")
}

func TestCreateOrGetCode_CodeSpaceExhausted(t *testing.T) {
	attempts := 0
	repo := &mockCodeRepository{
		insertFn: func(ctx context.Context, c *model.Code) error {
			attempts++
			return ErrDuplicateCode
		},
	}

	svc := newService(repo, nil, nil, Options{})
	code, err := svc.CreateOrGetCode(context.Background(), "pi_123", "", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Nil(t, code)
	assert.Equal(t, 5, attempts, "retry loop must be bounded")
}

func TestCreateOrGetCode_MailFailureDoesNotFail(t *testing.T) {
	repo := &mockCodeRepository{}
	mailer := &mockMailer{
		sendFn: func(to, code string) error {
			return errors.New("smtp: connection refused")
		},
	}

	svc := newService(repo, mailer, nil, Options{})
	code, err := svc.CreateOrGetCode(context.Background(), "pi_123", "a@x.com", nil)

	require.NoError(t, err, "the code row exists; delivery failure is logged, not returned")
	assert.NotNil(t, code)
}

func TestCreateOrGetCode_ExpirySet(t *testing.T) {
	var captured *model.Code
	repo := &mockCodeRepository{
		insertFn: func(ctx context.Context, c *model.Code) error {
			captured = c
			return nil
		},
	}

	svc := newService(repo, nil, nil, Options{CodeTTL: 48 * time.Hour})
	_, err := svc.CreateOrGetCode(context.Background(), "pi_123", "", nil)

	require.NoError(t, err)
	require.NotNil(t, captured.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), *captured.ExpiresAt, 5*time.Second)
}

func TestVoidCodesForPayment_Success(t *testing.T) {
	repo := &mockCodeRepository{
		voidByPaymentRefFn: func(ctx context.Context, paymentRef string) (int64, error) {
			assert.Equal(t, "pi_456", paymentRef)
			return 1, nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	n, err := svc.VoidCodesForPayment(context.Background(), "pi_456")

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestVoidCodesForPayment_NoMatchIsNotAnError(t *testing.T) {
	repo := &mockCodeRepository{
		voidByPaymentRefFn: func(ctx context.Context, paymentRef string) (int64, error) {
			return 0, nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	n, err := svc.VoidCodesForPayment(context.Background(), "pi_without_code")

	require.NoError(t, err, "refunds may arrive for payments that never produced a code")
	assert.Equal(t, int64(0), n)
}

func TestVoidCodesForPayment_EmptyRef(t *testing.T) {
	svc := newService(&mockCodeRepository{}, nil, nil, Options{})

	_, err := svc.VoidCodesForPayment(context.Background(), "")

	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func unusedCode() *model.Code {
	return &model.Code{
		ID:            "id-1",
		Code:          "AB2CD3",
		Status:        model.StatusUnused,
		PaymentRef:    "pi_123",
		CustomerEmail: "a@x.com",
	}
}

func TestRedeem_Success(t *testing.T) {
	var lookedUp, markedCode, markedIP, markedUA string
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.Code, error) {
			lookedUp = code
			return unusedCode(), nil
		},
		markUsedFn: func(ctx context.Context, code, ip, ua string) (bool, error) {
			markedCode, markedIP, markedUA = code, ip, ua
			return true, nil
		},
	}
	var mintedTTL time.Duration
	var mintedName string
	minter := &mockMinter{
		mintFn: func(ttl time.Duration, holderName string) (string, error) {
			mintedTTL = ttl
			mintedName = holderName
			return "signed-token", nil
		},
	}

	svc := newService(repo, nil, minter, Options{TokenTTL: 90 * time.Second})
	tok, err := svc.Redeem(context.Background(), " ab-2c d3 ", "A@X.COM", "  Ada  ", "203.0.113.9", "curl/8.0")

	require.NoError(t, err)
	assert.Equal(t, "signed-token", tok)
	assert.Equal(t, "AB2CD3", lookedUp, "lookup must use the normalized code")
	assert.Equal(t, "AB2CD3", markedCode)
	assert.Equal(t, "203.0.113.9", markedIP)
	assert.Equal(t, "curl/8.0", markedUA)
	assert.Equal(t, 90*time.Second, mintedTTL)
	assert.Equal(t, "Ada", mintedName, "holder name should be trimmed")
}

func TestRedeem_EmailMatchIsCaseInsensitive(t *testing.T) {
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.Code, error) {
			return unusedCode(), nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	_, err := svc.Redeem(context.Background(), "AB2CD3", "A@X.COM", "", "", "")

	assert.NoError(t, err)
}

func TestRedeem_EmailMismatch(t *testing.T) {
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.Code, error) {
			return unusedCode(), nil
		},
		markUsedFn: func(ctx context.Context, code, ip, ua string) (bool, error) {
			t.Fatal("a mismatched email must not consume the code")
			return false, nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	tok, err := svc.Redeem(context.Background(), "AB2CD3", "other@x.com", "", "", "")

	assert.ErrorIs(t, err, ErrEmailMismatch)
	assert.Empty(t, tok)
}

func TestRedeem_NoEmailProvided(t *testing.T) {
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.Code, error) {
			return unusedCode(), nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	_, err := svc.Redeem(context.Background(), "AB2CD3", "", "", "", "")

	assert.NoError(t, err, "email check only applies when both sides have one")
}

func TestRedeem_CodeHasNoBoundEmail(t *testing.T) {
	code := unusedCode()
	code.CustomerEmail = ""
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, c string) (*model.Code, error) {
			return code, nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	_, err := svc.Redeem(context.Background(), "AB2CD3", "whoever@x.com", "", "", "")

	assert.NoError(t, err)
}

func TestRedeem_NotFound(t *testing.T) {
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.Code, error) {
			return nil, nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	tok, err := svc.Redeem(context.Background(), "ZZZZZZ", "", "", "", "")

	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.Empty(t, tok)
}

func TestRedeem_EmptyAfterNormalization(t *testing.T) {
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.Code, error) {
			t.Fatal("no lookup should happen for an empty normalized code")
			return nil, nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	_, err := svc.Redeem(context.Background(), "0-1!L", "", "", "", "")

	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestRedeem_AlreadyUsed(t *testing.T) {
	for _, status := range []string{model.StatusUsed, model.StatusVoid} {
		code := unusedCode()
		code.Status = status
		repo := &mockCodeRepository{
			findByCodeFn: func(ctx context.Context, c string) (*model.Code, error) {
				return code, nil
			},
		}

		svc := newService(repo, nil, nil, Options{})
		tok, err := svc.Redeem(context.Background(), "AB2CD3", "", "", "", "")

		assert.ErrorIs(t, err, ErrCodeAlreadyUsed, "status %s", status)
		assert.Empty(t, tok)
	}
}

func TestRedeem_Expired(t *testing.T) {
	code := unusedCode()
	past := time.Now().Add(-time.Hour)
	code.ExpiresAt = &past
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, c string) (*model.Code, error) {
			return code, nil
		},
		markUsedFn: func(ctx context.Context, c, ip, ua string) (bool, error) {
			t.Fatal("an expired code must never reach USED")
			return false, nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	tok, err := svc.Redeem(context.Background(), "AB2CD3", "", "", "", "")

	assert.ErrorIs(t, err, ErrCodeExpired, "expiry wins even while status is still UNUSED")
	assert.Empty(t, tok)
}

func TestRedeem_LostRace(t *testing.T) {
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.Code, error) {
			return unusedCode(), nil
		},
		markUsedFn: func(ctx context.Context, code, ip, ua string) (bool, error) {
			// Another request (or a refund) won between the read and
			// the conditional update.
			return false, nil
		},
	}

	svc := newService(repo, nil, nil, Options{})
	tok, err := svc.Redeem(context.Background(), "AB2CD3", "", "", "", "")

	assert.ErrorIs(t, err, ErrCodeAlreadyUsed)
	assert.Empty(t, tok)
}

func TestRedeem_MinterError(t *testing.T) {
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.Code, error) {
			return unusedCode(), nil
		},
	}
	minter := &mockMinter{
		mintFn: func(ttl time.Duration, holderName string) (string, error) {
			return "", errors.New("signing key rotated away")
		},
	}

	svc := newService(repo, nil, minter, Options{})
	tok, err := svc.Redeem(context.Background(), "AB2CD3", "", "", "", "")

	require.Error(t, err)
	assert.Empty(t, tok)
	assert.False(t, errors.Is(err, ErrCodeAlreadyUsed))
}

func TestRedeem_HolderNameCapped(t *testing.T) {
	repo := &mockCodeRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.Code, error) {
			return unusedCode(), nil
		},
	}
	var mintedName string
	minter := &mockMinter{
		mintFn: func(ttl time.Duration, holderName string) (string, error) {
			mintedName = holderName
			return "tok", nil
		},
	}

	svc := newService(repo, nil, minter, Options{})
	_, err := svc.Redeem(context.Background(), "AB2CD3", "", strings.Repeat("n", 80), "", "")

	require.NoError(t, err)
	assert.Len(t, []rune(mintedName), 64)
}
