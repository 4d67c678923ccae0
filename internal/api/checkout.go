package api

import (
	"net/http"

	"checkout-service/internal/models"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
)

// checkoutStatus maps a session outcome to the response status. Resumed
// sessions report completion with 200 rather than 201.
func checkoutStatus(result *service.CheckoutResult, resumed bool) int {
	switch result.Status {
	case models.SessionStatusCompleted:
		if resumed {
			return http.StatusOK
		}
		return http.StatusCreated
	case models.SessionStatusAwaitingPayment, models.SessionStatusInProgress:
		return http.StatusAccepted
	case models.SessionStatusPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusUnprocessableEntity
	}
}

// checkoutCart handles order placement for the whole cart
func (h *Handler) checkoutCart(c *gin.Context) {
	customerID, ok := customerFrom(c)
	if !ok {
		h.badRequest(c, "Customer is required", nil)
		return
	}

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}
	req.CustomerID = customerID
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, err := h.checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := checkoutStatus(result, false)
	if result.Replayed && status == http.StatusCreated {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// getSession returns a checkout session to its customer
func (h *Handler) getSession(c *gin.Context) {
	customerID, ok := customerFrom(c)
	if !ok {
		h.badRequest(c, "Customer is required", nil)
		return
	}

	result, err := h.checkout.GetSession(c.Request.Context(), c.Param("id"), customerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// confirmRazorpay takes the modal outcome and resumes the session
func (h *Handler) confirmRazorpay(c *gin.Context) {
	customerID, ok := customerFrom(c)
	if !ok {
		h.badRequest(c, "Customer is required", nil)
		return
	}

	var in service.RazorpayConfirmation
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}
	if !in.Cancelled && (in.OrderID == "" || in.PaymentID == "" || in.Signature == "") {
		h.badRequest(c, "razorpay_order_id, razorpay_payment_id and razorpay_signature are required", nil)
		return
	}

	result, err := h.checkout.ConfirmRazorpay(c.Request.Context(), c.Param("id"), customerID, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(checkoutStatus(result, true), result)
}

type phonePeCallbackRequest struct {
	Response string `json:"response" binding:"required"`
}

// phonePeCallback handles PhonePe's server to server payment callback
func (h *Handler) phonePeCallback(c *gin.Context) {
	var req phonePeCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid callback body", err)
		return
	}
	checksum := c.GetHeader("X-VERIFY")
	if checksum == "" {
		h.badRequest(c, "X-VERIFY header is required", nil)
		return
	}

	result, err := h.checkout.HandlePhonePeCallback(c.Request.Context(), req.Response, checksum)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
