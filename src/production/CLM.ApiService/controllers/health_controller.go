package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
)

// BrokerProbe reports whether the claimed-device MQTT connection is up
type BrokerProbe interface {
	IsConnected() bool
}

// BreakerProbe exposes the cloud client's circuit breaker state
type BreakerProbe interface {
	GetCircuitBreakerStatus() map[string]interface{}
}

// HealthController handles liveness and readiness requests
type HealthController struct {
	service ClaimService
	broker  BrokerProbe
	breaker BreakerProbe
	logger  *logger.Logger
	started time.Time
}

// NewHealthController creates a new health controller
func NewHealthController(service ClaimService, broker BrokerProbe, breaker BreakerProbe, logger *logger.Logger) *HealthController {
	return &HealthController{
		service: service,
		broker:  broker,
		breaker: breaker,
		logger:  logger,
		started: time.Now(),
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	health := router.Group("/health")
	{
		health.GET("/live", c.Live)
		health.GET("/ready", c.Ready)
	}
}

func (c *HealthController) Live(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(c.started).String(),
	})
}

// Ready reports claim state plus broker connectivity. An unclaimed
// device with no broker connection is still ready; a claimed device
// that cannot reach its broker is degraded but serving.
func (c *HealthController) Ready(ctx *gin.Context) {
	status, err := c.service.QueryClaimStatus()
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	body := gin.H{
		"status":           "ok",
		"claimed":          status.Claimed,
		"broker_connected": c.broker.IsConnected(),
		"cloud":            c.breaker.GetCircuitBreakerStatus(),
	}
	if status.Claimed && !c.broker.IsConnected() {
		body["status"] = "degraded"
	}
	ctx.JSON(http.StatusOK, body)
}
