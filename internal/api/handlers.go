package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/metrics"
	"diet-plan-delivery/internal/nutrition"
	"diet-plan-delivery/internal/payment"
	"diet-plan-delivery/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// attributesRequest is embedded by every request carrying user data. The
// attributes may be an object or a JSON-encoded string.
type attributesRequest struct {
	UserID   string          `json:"userId"`
	UserData json.RawMessage `json:"userData"`
	Channel  string          `json:"channel"`
}

func (r attributesRequest) attributes() (nutrition.UserAttributes, error) {
	attrs, err := nutrition.ParseAttributes(r.UserData)
	if err != nil {
		return nutrition.UserAttributes{}, &pipeline.ValidationError{Field: "userData", Reason: err.Error()}
	}
	if attrs.UserID == "" {
		attrs.UserID = r.UserID
	}
	return attrs, nil
}

func (r attributesRequest) preference() (delivery.Kind, error) {
	kind, err := delivery.ParseKind(r.Channel)
	if err != nil {
		return "", &pipeline.ValidationError{Field: "channel", Reason: err.Error()}
	}
	return kind, nil
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, &pipeline.ValidationError{Field: "body", Reason: err.Error()})
		return false
	}
	return true
}

// handleWebhook receives payment notifications. Failures are answered with
// a generic body; the detail is only logged under the correlation id.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}

	n, err := payment.ParseNotification(body, c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}
	if !n.IsPayment() {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	paymentID := n.PaymentID()
	if paymentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}

	// The signature covers the query id, so it must name the same payment.
	if dataID := c.Query("data.id"); dataID != "" && dataID != paymentID {
		log.Printf("Rejected webhook: query id %s does not match payment %s", dataID, paymentID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}

	if s.opts.WebhookSecret != "" {
		err := payment.VerifySignature(s.opts.WebhookSecret, c.GetHeader("x-signature"), c.GetHeader("x-request-id"), paymentID)
		if err != nil {
			log.Printf("Rejected webhook for payment %s: %v", paymentID, err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	// The provider may hang up before the pipeline finishes.
	out, err := s.pipeline.HandlePayment(context.WithoutCancel(c.Request.Context()), paymentID)
	if err != nil {
		log.Printf("[%s] Webhook for payment %s failed (%s): %v", out.CorrelationID, paymentID, pipeline.ErrorKind(err), err)
		c.JSON(StatusFor(err), gin.H{"error": "payment processing failed", "correlationId": out.CorrelationID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "processed",
		"correlationId": out.CorrelationID,
		"state":         out.State,
		"duplicate":     out.Duplicate,
	})
}

func (s *Server) handleCheckout(c *gin.Context) {
	if s.checkout == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "checkout not configured"})
		return
	}

	var req attributesRequest
	if !bindJSON(c, &req) {
		return
	}
	attrs, err := req.attributes()
	if err != nil {
		respondError(c, err)
		return
	}
	if attrs.UserID == "" {
		respondError(c, &pipeline.ValidationError{Field: "userId", Reason: "is required"})
		return
	}

	pref, err := s.checkout.CreatePreference(c.Request.Context(), payment.PreferenceRequest{
		UserID:          attrs.UserID,
		Attributes:      attrs,
		Price:           s.opts.PlanPrice,
		Currency:        s.opts.PlanCurrency,
		NotificationURL: strings.TrimRight(s.opts.PublicBaseURL, "/") + "/api/payments/webhook",
		ReturnURL:       s.opts.WebURL,
	})
	if err != nil {
		log.Printf("Failed to create checkout for user %s: %v", attrs.UserID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create checkout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"preferenceId": pref.ID, "paymentUrl": pref.CheckoutURL})
}

func (s *Server) handleVerifyPayment(c *gin.Context) {
	p, err := s.pipeline.VerifyPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req attributesRequest
	if !bindJSON(c, &req) {
		return
	}
	attrs, err := req.attributes()
	if err != nil {
		respondError(c, err)
		return
	}

	plan, err := s.pipeline.Generate(c.Request.Context(), attrs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

func (s *Server) handleRender(c *gin.Context) {
	var req struct {
		attributesRequest
		Plan *nutrition.Plan `json:"plan"`
		Dest string          `json:"dest"`
	}
	if !bindJSON(c, &req) {
		return
	}
	attrs, err := req.attributes()
	if err != nil {
		respondError(c, err)
		return
	}

	doc, err := s.pipeline.Render(c.Request.Context(), req.Plan, attrs, req.Dest)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (s *Server) handleDeliver(c *gin.Context) {
	var req struct {
		attributesRequest
		Document document.Handle `json:"document"`
	}
	if !bindJSON(c, &req) {
		return
	}
	attrs, err := req.attributes()
	if err != nil {
		respondError(c, err)
		return
	}
	pref, err := req.preference()
	if err != nil {
		respondError(c, err)
		return
	}

	receipt, err := s.pipeline.Deliver(c.Request.Context(), req.Document, attrs, pref)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

func (s *Server) handleFullProcess(c *gin.Context) {
	var req attributesRequest
	if !bindJSON(c, &req) {
		return
	}
	attrs, err := req.attributes()
	if err != nil {
		respondError(c, err)
		return
	}
	pref, err := req.preference()
	if err != nil {
		respondError(c, err)
		return
	}

	out, err := s.pipeline.RunFullProcess(c.Request.Context(), attrs, pref)
	respondOutcome(c, out, err)
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.pipeline.Run(c.Request.Context(), c.Param("correlationId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRetryDelivery(c *gin.Context) {
	out, err := s.pipeline.RetryDelivery(c.Request.Context(), c.Param("correlationId"))
	respondOutcome(c, out, err)
}

func (s *Server) handleResume(c *gin.Context) {
	out, err := s.pipeline.Resume(c.Request.Context(), c.Param("correlationId"))
	respondOutcome(c, out, err)
}

func (s *Server) handleMetrics(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 {
		respondError(c, &pipeline.ValidationError{Field: "days", Reason: "must be a positive integer"})
		return
	}

	var usage []metrics.DailyUsage
	if s.usage != nil {
		if usage, err = s.usage.GetDailyUsage(c.Request.Context(), days); err != nil {
			respondError(c, fmt.Errorf("failed to read usage: %w", err))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"usage":  usage,
		"health": metrics.GetSysHealth(s.opts.DocumentDir),
	})
}
