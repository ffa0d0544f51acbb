// Subscription HTTP handlers.
//
// Signup accepts JSON or an HTML form post and answers 200 once the
// confirmation email is on its way. The confirmation link carries an opaque
// token; an unknown token is answered with 401.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// SubscribeRequest is the JSON or form payload for a signup.
type SubscribeRequest struct {
	Name  string `json:"name"  form:"name"  example:"Ursula Le Guin"`
	Email string `json:"email" form:"email" example:"ursula@example.com"`
}

// SubscriptionResponse reports the subscription status.
type SubscriptionResponse struct {
	Status string `json:"status" example:"pending_confirmation"`
}

// Subscribe godoc
// @ID          subscribe
// @Summary     Subscribe to the newsletter
// @Description Registers a pending subscriber and emails a confirmation link.
// @Tags        Subscriptions
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Param       body  body  handlers.SubscribeRequest  true  "Subscriber"
// @Success     200  {object} handlers.SubscriptionResponse
// @Failure     400  {object} handlers.ErrorResponse "Invalid name or email"
// @Failure     409  {object} handlers.ErrorResponse "Already subscribed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /subscriptions [post]
func (h *Handlers) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	sub, err := h.subs.Subscribe(c.Request.Context(), req.Name, req.Email)
	switch {
	case err == nil:
		ok(c, http.StatusOK, SubscriptionResponse{Status: sub.Status})
	case errors.Is(err, services.ErrInvalidSubscriber):
		fail(c, http.StatusBadRequest, ErrCodeInvalidSubscriber, "a valid name and email are required")
	case errors.Is(err, services.ErrAlreadySubscribed):
		fail(c, http.StatusConflict, ErrCodeAlreadySubscribed, "email already subscribed")
	default:
		failInternal(c, err, ErrCodeSubscribeFailed, "failed to subscribe")
	}
}

// ConfirmSubscription godoc
// @ID          confirmSubscription
// @Summary     Confirm a subscription
// @Description Confirms the subscriber owning the token from the confirmation email.
// @Tags        Subscriptions
// @Produce     json
// @Param       subscription_token  query  string  true  "Token from the confirmation link"
// @Success     200  {object} handlers.SubscriptionResponse
// @Failure     400  {object} handlers.ErrorResponse "Missing token"
// @Failure     401  {object} handlers.ErrorResponse "Unknown token"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /subscriptions/confirm [get]
func (h *Handlers) ConfirmSubscription(c *gin.Context) {
	token := strings.TrimSpace(c.Query("subscription_token"))
	if token == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subscription_token is required")
		return
	}

	switch err := h.subs.Confirm(c.Request.Context(), token); {
	case err == nil:
		ok(c, http.StatusOK, SubscriptionResponse{Status: domain.StatusConfirmed})
	case errors.Is(err, services.ErrUnknownToken):
		fail(c, http.StatusUnauthorized, ErrCodeUnknownToken, "unknown subscription token")
	default:
		failInternal(c, err, ErrCodeConfirmFailed, "failed to confirm subscription")
	}
}
