package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/passlane/pass-redemption/internal/model"
	"github.com/passlane/pass-redemption/internal/service"
)

// RedeemServiceInterface defines the interface for code consumption.
type RedeemServiceInterface interface {
	Redeem(ctx context.Context, code, email, name, ip, ua string) (string, error)
}

// RedeemHandler handles HTTP requests to exchange a code for a download
// credential.
type RedeemHandler struct {
	service   RedeemServiceInterface
	validator *validator.Validate
	tokenTTL  time.Duration
}

// NewRedeemHandler creates a new RedeemHandler.
func NewRedeemHandler(svc RedeemServiceInterface, v *validator.Validate, tokenTTL time.Duration) *RedeemHandler {
	return &RedeemHandler{service: svc, validator: v, tokenTTL: tokenTTL}
}

// formatRedeemValidationError converts validator errors to stable messages.
func formatRedeemValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			tag := fe.Tag()

			switch field {
			case "Code":
				if tag == "required" {
					return "invalid request: code is required"
				}
				if tag == "notblank" {
					return "invalid request: code cannot be whitespace only"
				}
				if tag == "max" {
					return "invalid request: code exceeds maximum length of 64"
				}
				return "invalid request: code is invalid"
			case "Email":
				if tag == "email" {
					return "invalid request: email is not a valid address"
				}
				if tag == "max" {
					return "invalid request: email exceeds maximum length of 255"
				}
				return "invalid request: email is invalid"
			case "Name":
				if tag == "max" {
					return "invalid request: name exceeds maximum length of 255"
				}
				return "invalid request: name is invalid"
			default:
				if tag == "required" {
					return "invalid request: " + field + " is required"
				}
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}

// RedeemCode handles POST /api/redeem requests.
func (h *RedeemHandler) RedeemCode(c *fiber.Ctx) error {
	var req model.RedeemRequest

	// Parse JSON body
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatRedeemValidationError(err)})
	}

	// Redeem via service; IP and user agent are stamped on the code row.
	token, err := h.service.Redeem(c.Context(), req.Code, req.Email, req.Name, c.IP(), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		if errors.Is(err, service.ErrCodeNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "code not found"})
		}
		if errors.Is(err, service.ErrCodeAlreadyUsed) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "code already used or voided"})
		}
		if errors.Is(err, service.ErrCodeExpired) {
			return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "code expired"})
		}
		if errors.Is(err, service.ErrEmailMismatch) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "email does not match code"})
		}
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("failed to redeem code")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg("code redeemed successfully")

	return c.JSON(model.RedeemResponse{
		Token:     token,
		ExpiresIn: int(h.tokenTTL.Seconds()),
	})
}
