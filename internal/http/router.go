package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/kavindya12/soa-microservices-platform/internal/config"
	"github.com/kavindya12/soa-microservices-platform/internal/domain"
	"github.com/kavindya12/soa-microservices-platform/internal/http/handler"
	httpmiddleware "github.com/kavindya12/soa-microservices-platform/internal/http/middleware"
	"github.com/kavindya12/soa-microservices-platform/internal/middleware"
)

// Handlers groups the route handlers.
type Handlers struct {
	System   *handler.SystemHandler
	OAuth    *handler.OAuthHandler
	Workflow *handler.WorkflowHandler
}

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, h Handlers, auth *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))

	r.GET("/", h.System.Root)
	r.GET("/health", h.System.Health)
	r.GET("/api-docs", h.System.APIDocs)

	oauth := r.Group("/oauth")
	{
		public := oauth.Group("", rateLimiter.Handler())
		public.GET("/authorize", h.OAuth.Authorize)
		public.POST("/token", h.OAuth.Token)
		public.POST("/introspect", h.OAuth.Introspect)

		oauth.GET("/clients", auth.Authenticate, httpmiddleware.RequireScope(domain.ScopeAdmin), h.OAuth.Clients)
	}

	protected := r.Group("", auth.Authenticate)
	{
		protected.POST("/place-order", httpmiddleware.RequireScope(domain.ScopeWrite), h.Workflow.PlaceOrder)
		protected.GET("/workflow-status/:orderId", httpmiddleware.RequireScope(domain.ScopeRead), h.Workflow.WorkflowStatus)
		protected.PUT("/update-catalog-stock/:productId", httpmiddleware.RequireScope(domain.ScopeWrite), h.Workflow.UpdateCatalogStock)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Route not found."})
	})

	return r
}
