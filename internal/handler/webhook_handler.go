package handler

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/passlane/pass-redemption/internal/model"
)

// WebhookServiceInterface is the slice of the redemption service the payment
// webhook boundary needs.
type WebhookServiceInterface interface {
	CreateOrGetCode(ctx context.Context, paymentRef, email string, metadata map[string]string) (*model.Code, error)
	VoidCodesForPayment(ctx context.Context, paymentRef string) (int64, error)
}

// WebhookHandler receives Stripe events. Signature verification happens
// here; everything behind this handler assumes a trusted event.
type WebhookHandler struct {
	service WebhookServiceInterface
	secret  string
}

// NewWebhookHandler creates a WebhookHandler with the given service and
// Stripe endpoint secret.
func NewWebhookHandler(svc WebhookServiceInterface, endpointSecret string) *WebhookHandler {
	return &WebhookHandler{service: svc, secret: endpointSecret}
}

// HandleStripeEvent handles POST /api/stripe/webhook.
// Stripe retries every non-2xx response, so only signature failures and
// store errors are reported as such; event types this service does not care
// about are acknowledged with 200.
func (h *WebhookHandler) HandleStripeEvent(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"), h.secret)
	if err != nil {
		log.Warn().Err(err).Msg("rejected stripe webhook: bad signature")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid signature"})
	}

	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(c, event)
	case "charge.refunded":
		return h.handleChargeRefunded(c, event)
	default:
		return c.SendStatus(fiber.StatusOK)
	}
}

func (h *WebhookHandler) handleCheckoutCompleted(c *fiber.Ctx, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("malformed checkout session payload")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed payload"})
	}
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		log.Warn().Str("session_id", session.ID).Msg("checkout session without payment intent, ignoring")
		return c.SendStatus(fiber.StatusOK)
	}

	// CustomerDetails carries the address the buyer actually typed at
	// checkout; CustomerEmail is only set for pre-existing customers.
	email := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email = session.CustomerDetails.Email
	}

	code, err := h.service.CreateOrGetCode(c.Context(), session.PaymentIntent.ID, email, session.Metadata)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", event.ID).
			Str("payment_ref", session.PaymentIntent.ID).
			Msg("failed to issue code for payment")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Info().
		Str("code_id", code.ID).
		Str("payment_ref", session.PaymentIntent.ID).
		Msg("code issued for payment")
	return c.SendStatus(fiber.StatusOK)
}

func (h *WebhookHandler) handleChargeRefunded(c *fiber.Ctx, event stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("malformed charge payload")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed payload"})
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		log.Warn().Str("charge_id", charge.ID).Msg("refunded charge without payment intent, ignoring")
		return c.SendStatus(fiber.StatusOK)
	}

	if _, err := h.service.VoidCodesForPayment(c.Context(), charge.PaymentIntent.ID); err != nil {
		log.Error().
			Err(err).
			Str("event_id", event.ID).
			Str("payment_ref", charge.PaymentIntent.ID).
			Msg("failed to void codes for refund")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.SendStatus(fiber.StatusOK)
}
