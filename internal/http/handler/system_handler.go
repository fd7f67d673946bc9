package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// BrokerStatus reports broker connectivity.
type BrokerStatus interface {
	Connected() bool
}

// SystemHandler serves the informational endpoints.
type SystemHandler struct {
	Broker BrokerStatus
	now    func() time.Time
}

// NewSystemHandler creates the handler set.
func NewSystemHandler(broker BrokerStatus) *SystemHandler {
	return &SystemHandler{Broker: broker, now: time.Now}
}

func (h *SystemHandler) Root(c *gin.Context) {
	c.String(http.StatusOK, "Orchestrator Service API - OAuth2 Server")
}

func (h *SystemHandler) Health(c *gin.Context) {
	brokerState := "disconnected"
	if h.Broker != nil && h.Broker.Connected() {
		brokerState = "connected"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "Orchestrator Service",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"broker":    brokerState,
	})
}

type endpointDoc struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Auth        string `json:"auth"`
	Description string `json:"description"`
}

var endpointDocs = []endpointDoc{
	{Method: http.MethodGet, Path: "/", Auth: "none", Description: "Service banner"},
	{Method: http.MethodGet, Path: "/health", Auth: "none", Description: "Liveness and broker connectivity"},
	{Method: http.MethodGet, Path: "/api-docs", Auth: "none", Description: "This listing"},
	{Method: http.MethodGet, Path: "/oauth/authorize", Auth: "none", Description: "Authorization code grant"},
	{Method: http.MethodPost, Path: "/oauth/token", Auth: "client credentials", Description: "Exchange an authorization code for tokens"},
	{Method: http.MethodPost, Path: "/oauth/introspect", Auth: "client credentials", Description: "Report token activity"},
	{Method: http.MethodGet, Path: "/oauth/clients", Auth: "bearer, scope admin", Description: "List registered clients"},
	{Method: http.MethodPost, Path: "/place-order", Auth: "bearer, scope write", Description: "Create an order and start its workflow"},
	{Method: http.MethodGet, Path: "/workflow-status/:orderId", Auth: "bearer, scope read", Description: "Aggregated order, payment and shipping status"},
	{Method: http.MethodPut, Path: "/update-catalog-stock/:productId", Auth: "bearer, scope write", Description: "Decrement catalog stock"},
}

func (h *SystemHandler) APIDocs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   "Orchestrator Service",
		"endpoints": endpointDocs,
	})
}
