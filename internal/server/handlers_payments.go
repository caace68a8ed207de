package server

import (
	"io"
	"net/http"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/contrax-app/contrax/backend/internal/payments"
	"github.com/gin-gonic/gin"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodyBytes   = 1 << 16
)

func (h *httpHandler) handleStripeCheckout(c *gin.Context) {
	var request checkoutRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, invalidJSON(err))
		return
	}
	session, err := h.checkout.StartStripe(c.Request.Context(), payments.CheckoutRequest{
		UserID:     request.UserID,
		Plan:       request.Plan,
		PayerEmail: request.Email,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": session.ID, "url": session.URL})
}

func (h *httpHandler) handleMercadoPagoCheckout(c *gin.Context) {
	var request checkoutRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, invalidJSON(err))
		return
	}
	session, err := h.checkout.StartMercadoPago(c.Request.Context(), payments.CheckoutRequest{
		UserID:     request.UserID,
		Plan:       request.Plan,
		PayerEmail: request.Email,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": session.URL})
}

func (h *httpHandler) handleStripeWebhook(c *gin.Context) {
	payload, err := readWebhookBody(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if _, err := h.reconciler.HandleStripe(c.Request.Context(), payload, c.GetHeader(stripeSignatureHeader)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *httpHandler) handleMercadoPagoWebhook(c *gin.Context) {
	body, err := readWebhookBody(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if _, err := h.reconciler.HandleMercadoPago(c.Request.Context(), body); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func readWebhookBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, opDecodeRequest, "unreadable_body", "corpo da requisição inválido", err)
	}
	return body, nil
}
