package api

import (
	"net/http"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
)

// orderRequest resolves the caller and the order id shared by every order route.
func (h *Handler) orderRequest(c *gin.Context) (service.Actor, int64, bool) {
	actor, err := actorFrom(c)
	if err != nil {
		h.badRequest(c, "Invalid caller", err)
		return service.Actor{}, 0, false
	}
	orderID, ok := orderIDParam(c)
	if !ok {
		h.badRequest(c, "Invalid order ID", nil)
		return service.Actor{}, 0, false
	}
	return actor, orderID, true
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	actor, orderID, ok := h.orderRequest(c)
	if !ok {
		return
	}

	details, err := h.fulfillment.GetOrder(c.Request.Context(), actor, orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// updateStatus applies a lifecycle transition
func (h *Handler) updateStatus(c *gin.Context) {
	actor, orderID, ok := h.orderRequest(c)
	if !ok {
		return
	}

	var update service.StatusUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.fulfillment.UpdateStatus(c.Request.Context(), actor, orderID, update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type assignRequest struct {
	PartnerID int64 `json:"partner_id" binding:"required,gt=0"`
}

// assignPartner sets the delivery partner
func (h *Handler) assignPartner(c *gin.Context) {
	actor, orderID, ok := h.orderRequest(c)
	if !ok {
		return
	}

	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.fulfillment.AssignPartner(c.Request.Context(), actor, orderID, req.PartnerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// collectCOD records cash collected on delivery
func (h *Handler) collectCOD(c *gin.Context) {
	actor, orderID, ok := h.orderRequest(c)
	if !ok {
		return
	}

	var in service.CODCollection
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	result, err := h.fulfillment.CollectCOD(c.Request.Context(), actor, orderID, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type trackingRequest struct {
	PartnerID  int64     `json:"partner_id"`
	Lat        *float64  `json:"lat" binding:"required"`
	Lng        *float64  `json:"lng" binding:"required"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ingestTracking accepts a GPS fix from the delivery partner app
func (h *Handler) ingestTracking(c *gin.Context) {
	actor, orderID, ok := h.orderRequest(c)
	if !ok {
		return
	}

	var req trackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	partnerID := req.PartnerID
	switch actor.Type {
	case models.ActorPartner:
		partnerID = actor.ID
	case models.ActorSystem:
		if partnerID <= 0 {
			h.badRequest(c, "partner_id is required", nil)
			return
		}
	default:
		h.respondError(c, apperr.New(apperr.CodeForbidden, "only delivery partners report positions"))
		return
	}

	result, err := h.tracking.Ingest(c.Request.Context(), service.TrackingFix{
		OrderID:    orderID,
		PartnerID:  partnerID,
		Lat:        *req.Lat,
		Lng:        *req.Lng,
		RecordedAt: req.RecordedAt,
		Source:     service.SourceHTTP,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"result": result})
}

// trackingHistory lists an order's GPS fixes
func (h *Handler) trackingHistory(c *gin.Context) {
	actor, orderID, ok := h.orderRequest(c)
	if !ok {
		return
	}

	points, err := h.tracking.History(c.Request.Context(), actor, orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "points": points})
}

// liveLocation returns the latest cached position
func (h *Handler) liveLocation(c *gin.Context) {
	actor, orderID, ok := h.orderRequest(c)
	if !ok {
		return
	}

	loc, err := h.tracking.LiveLocation(c.Request.Context(), actor, orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loc)
}
