package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/passlane/pass-redemption/internal/pass"
	"github.com/passlane/pass-redemption/internal/token"
)

// CredentialVerifier validates a presented download credential.
type CredentialVerifier interface {
	Verify(tok string) (*token.Claims, error)
}

// DownloadHandler exchanges a valid credential for the pass bytes.
type DownloadHandler struct {
	verifier CredentialVerifier
	producer pass.Producer
}

// NewDownloadHandler creates a new DownloadHandler.
func NewDownloadHandler(verifier CredentialVerifier, producer pass.Producer) *DownloadHandler {
	return &DownloadHandler{verifier: verifier, producer: producer}
}

// DownloadPass handles GET /api/pass requests. The credential arrives as a
// query parameter so the link works directly from a browser. Every token
// failure gets the same opaque answer.
func (h *DownloadHandler) DownloadPass(c *fiber.Ctx) error {
	claims, err := h.verifier.Verify(c.Query("token"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
	}

	data, err := h.producer.Produce(claims.HolderName)
	if err != nil {
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Msg("failed to produce pass")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	c.Set(fiber.HeaderContentType, "application/vnd.apple.pkpass")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="pass.pkpass"`)
	return c.Send(data)
}
