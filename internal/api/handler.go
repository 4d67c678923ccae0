package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Caller identity headers, set by the gateway in front of this service.
const (
	headerActorType  = "X-Actor-Type"
	headerActorID    = "X-Actor-ID"
	headerVendorID   = "X-Vendor-ID"
	headerCustomerID = "X-Customer-ID"
)

// CheckoutAPI is the checkout saga as seen by HTTP.
type CheckoutAPI interface {
	Checkout(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutResult, error)
	GetSession(ctx context.Context, sessionID string, customerID int64) (*service.CheckoutResult, error)
	ConfirmRazorpay(ctx context.Context, sessionID string, customerID int64, in service.RazorpayConfirmation) (*service.CheckoutResult, error)
	HandlePhonePeCallback(ctx context.Context, encodedResponse, checksum string) (*service.CheckoutResult, error)
}

// FulfillmentAPI is the order lifecycle as seen by HTTP.
type FulfillmentAPI interface {
	GetOrder(ctx context.Context, actor service.Actor, orderID int64) (*service.OrderDetails, error)
	UpdateStatus(ctx context.Context, actor service.Actor, orderID int64, update service.StatusUpdate) (*models.VendorOrder, error)
	AssignPartner(ctx context.Context, actor service.Actor, orderID, partnerID int64) (*models.VendorOrder, error)
	CollectCOD(ctx context.Context, actor service.Actor, orderID int64, in service.CODCollection) (*service.CODResult, error)
}

// TrackingAPI is delivery tracking as seen by HTTP.
type TrackingAPI interface {
	Ingest(ctx context.Context, fix service.TrackingFix) (service.IngestResult, error)
	History(ctx context.Context, actor service.Actor, orderID int64) ([]models.TrackingPoint, error)
	LiveLocation(ctx context.Context, actor service.Actor, orderID int64) (*redisclient.Location, error)
}

// Dependency is something /ready pings.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	checkout    CheckoutAPI
	fulfillment FulfillmentAPI
	tracking    TrackingAPI
	deps        []Dependency
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout CheckoutAPI, fulfillment FulfillmentAPI, tracking TrackingAPI, deps ...Dependency) *Handler {
	return &Handler{
		checkout:    checkout,
		fulfillment: fulfillment,
		tracking:    tracking,
		deps:        deps,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.checkoutCart)
		v1.GET("/checkout/sessions/:id", h.getSession)
		v1.POST("/checkout/sessions/:id/razorpay", h.confirmRazorpay)
		v1.POST("/payments/phonepe/callback", h.phonePeCallback)

		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateStatus)
		v1.POST("/orders/:id/assign", h.assignPartner)
		v1.POST("/orders/:id/cod", h.collectCOD)
		v1.POST("/orders/:id/tracking", h.ingestTracking)
		v1.GET("/orders/:id/tracking", h.trackingHistory)
		v1.GET("/orders/:id/location", h.liveLocation)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for _, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failing[dep.Name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not ready",
			"dependencies": failing,
			"time":         time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError writes a coded error. Uncoded errors are logged and reported
// as internal without their text.
func (h *Handler) respondError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)

	body := gin.H{
		"error": meta.PublicMessage,
		"code":  code,
	}
	if typed := apperr.As(err); typed != nil {
		body["message"] = typed.Message()
		if meta.DetailsAllowed && typed.Details() != nil {
			body["details"] = typed.Details()
		}
	}
	if meta.Retryable {
		body["retryable"] = true
	}

	if meta.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", string(code)),
			zap.Error(err))
	}
	c.JSON(meta.HTTPStatus, body)
}

func (h *Handler) badRequest(c *gin.Context, message string, err error) {
	body := gin.H{
		"error":   message,
		"code":    apperr.CodeValidation,
		"message": message,
	}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// actorFrom reads the caller identity headers.
func actorFrom(c *gin.Context) (service.Actor, error) {
	actorType := models.ActorType(c.GetHeader(headerActorType))
	if !actorType.Valid() {
		return service.Actor{}, errors.New("missing or unknown " + headerActorType)
	}

	actor := service.Actor{Type: actorType}
	if raw := c.GetHeader(headerActorID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return service.Actor{}, errors.New("invalid " + headerActorID)
		}
		actor.ID = id
	}
	if raw := c.GetHeader(headerVendorID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return service.Actor{}, errors.New("invalid " + headerVendorID)
		}
		actor.VendorID = id
	}
	if actor.Type != models.ActorSystem && actor.ID == 0 {
		return service.Actor{}, errors.New(headerActorID + " is required")
	}
	return actor, nil
}

// customerFrom reads the customer id from X-Customer-ID or a customer actor.
func customerFrom(c *gin.Context) (int64, bool) {
	raw := c.GetHeader(headerCustomerID)
	if raw == "" && models.ActorType(c.GetHeader(headerActorType)) == models.ActorCustomer {
		raw = c.GetHeader(headerActorID)
	}
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func orderIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
