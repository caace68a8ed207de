package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/contrax-app/contrax/backend/internal/contracts"
	"github.com/contrax-app/contrax/backend/internal/metrics"
	"github.com/contrax-app/contrax/backend/internal/payments"
	"github.com/contrax-app/contrax/backend/internal/plans"
	"github.com/contrax-app/contrax/backend/internal/realtime"
	"github.com/contrax-app/contrax/backend/internal/render"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	corsMaxAge               = 12 * time.Hour
	rootMessage              = "API Contrax está rodando"
)

// ContractService is the contract lifecycle as used by the handlers.
type ContractService interface {
	Create(ctx context.Context, request contracts.CreateRequest) (contracts.Contract, error)
	Sign(ctx context.Context, contractID string) (contracts.Contract, error)
	Finalize(ctx context.Context, contractID string) (contracts.Contract, error)
	Cancel(ctx context.Context, contractID string) (contracts.Contract, error)
	Get(ctx context.Context, contractID string) (contracts.Contract, error)
	List(ctx context.Context, ownerID string) ([]contracts.Contract, error)
	ListActivities(ctx context.Context, contractID string) ([]contracts.Activity, error)
	Dashboard(ctx context.Context, ownerID string) (contracts.Summary, error)
}

// ProfileStore serves and merges user profiles.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (plans.Record, error)
	MergeProfile(ctx context.Context, userID string, fields map[string]any) (plans.Record, error)
}

type CheckoutStarter interface {
	StartStripe(ctx context.Context, request payments.CheckoutRequest) (payments.CheckoutSession, error)
	StartMercadoPago(ctx context.Context, request payments.CheckoutRequest) (payments.CheckoutSession, error)
}

type PaymentReconciler interface {
	HandleStripe(ctx context.Context, payload []byte, signatureHeader string) (payments.Outcome, error)
	HandleMercadoPago(ctx context.Context, body []byte) (payments.Outcome, error)
}

type DocumentRenderer interface {
	Render(document render.Document) ([]byte, error)
}

type RealtimeSubscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan realtime.Message, func())
}

// Dependencies describes the collaborators required by the HTTP handlers.
type Dependencies struct {
	Contracts          ContractService
	Profiles           ProfileStore
	Checkout           CheckoutStarter
	Reconciler         PaymentReconciler
	Renderer           DocumentRenderer
	Realtime           RealtimeSubscriber
	Metrics            *metrics.Metrics
	HealthCheck        func(ctx context.Context) error
	CORSAllowedOrigins []string
	HeartbeatInterval  time.Duration
	Logger             *zap.Logger
}

type httpHandler struct {
	contracts  ContractService
	profiles   ProfileStore
	checkout   CheckoutStarter
	reconciler PaymentReconciler
	renderer   DocumentRenderer
	realtime   RealtimeSubscriber
	metrics    *metrics.Metrics
	health     func(ctx context.Context) error
	heartbeat  time.Duration
	logger     *zap.Logger
}

// NewHTTPHandler builds the gin router serving the public API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Contracts == nil:
		return nil, errors.New("contract service is required")
	case deps.Profiles == nil:
		return nil, errors.New("profile store is required")
	case deps.Checkout == nil:
		return nil, errors.New("checkout starter is required")
	case deps.Reconciler == nil:
		return nil, errors.New("payment reconciler is required")
	case deps.Renderer == nil:
		return nil, errors.New("document renderer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	handler := &httpHandler{
		contracts:  deps.Contracts,
		profiles:   deps.Profiles,
		checkout:   deps.Checkout,
		reconciler: deps.Reconciler,
		renderer:   deps.Renderer,
		realtime:   deps.Realtime,
		metrics:    deps.Metrics,
		health:     deps.HealthCheck,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.CORSAllowedOrigins))
	router.Use(handler.observeRequests())

	router.GET("/", handler.handleRoot)
	router.GET("/health", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.POST("/create-checkout-session/", handler.handleStripeCheckout)
	router.POST("/webhook/", handler.handleStripeWebhook)
	router.POST("/checkout-mercadopago/", handler.handleMercadoPagoCheckout)
	router.POST("/webhook-mercadopago/", handler.handleMercadoPagoWebhook)

	router.POST("/criar-contrato/", handler.handleCreateContract)
	router.GET("/meus-contratos/:userId", handler.handleListOwnContracts)
	router.GET("/todos-contratos/", handler.handleListAllContracts)
	router.GET("/download-contrato/:id", handler.handleDownloadContract)
	router.GET("/historico-contrato/:id", handler.handleContractHistory)
	router.POST("/assinar-contrato/:id", handler.handleSignContract)
	router.POST("/finalizar-contrato/:id", handler.handleFinalizeContract)
	router.POST("/cancelar-contrato/:id", handler.handleCancelContract)
	router.GET("/dashboard/:userId", handler.handleDashboard)
	router.GET("/dashboard-admin/", handler.handleAdminDashboard)

	router.GET("/perfil/:userId", handler.handleGetProfile)
	router.POST("/perfil/:userId", handler.handleMergeProfile)

	if deps.Realtime != nil {
		router.GET("/eventos/:userId", handler.handleEvents)
	}

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Stripe-Signature"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        corsMaxAge,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func (h *httpHandler) observeRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.ObserveHTTPRequest(route, c.Request.Method, strconv.Itoa(c.Writer.Status()))
	}
}

func (h *httpHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": rootMessage})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
