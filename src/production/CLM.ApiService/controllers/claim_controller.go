package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
)

// ClaimService is the claim-engine surface exposed over the local
// management API. All state mutation goes through these operations.
type ClaimService interface {
	QueryClaimStatus() (api_models.ClaimStatus, error)
	RequestOpenClaimingWindow() api_models.OpenWindowResult
	SubmitManualClaimCode(ctx context.Context, code string) (api_models.SubmitResult, error)
	RequestLocalUnclaim(source clmmodels.Source, actor string) (api_models.UnclaimResult, error)
}

// AuditReader exposes the local audit trail read-only
type AuditReader interface {
	Recent(limit int) []clmmodels.AuditEntry
}

// ClaimController handles local claim management requests
type ClaimController struct {
	service ClaimService
	audit   AuditReader
	logger  *logger.Logger
}

// NewClaimController creates a new claim controller
func NewClaimController(service ClaimService, audit AuditReader, logger *logger.Logger) *ClaimController {
	return &ClaimController{
		service: service,
		audit:   audit,
		logger:  logger,
	}
}

// RegisterRoutes registers the claim routes with Gin
func (c *ClaimController) RegisterRoutes(router *gin.Engine) {
	claim := router.Group("/claim")
	{
		claim.GET("/status", c.GetStatus)
		claim.POST("/window", c.OpenWindow)
		claim.POST("/code", c.SubmitCode)
		claim.POST("/unclaim", c.Unclaim)
		claim.GET("/audit", c.GetAudit)
	}
}

func (c *ClaimController) GetStatus(ctx *gin.Context) {
	status, err := c.service.QueryClaimStatus()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, status)
}

func (c *ClaimController) OpenWindow(ctx *gin.Context) {
	result := c.service.RequestOpenClaimingWindow()
	if !result.Opened {
		ctx.JSON(http.StatusConflict, gin.H{"error": result.Reason})
		return
	}
	ctx.JSON(http.StatusOK, result)
}

type SubmitCodeRequest struct {
	ClaimCode string `json:"claim_code" binding:"required"`
}

func (c *ClaimController) SubmitCode(ctx *gin.Context) {
	var req SubmitCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := c.service.SubmitManualClaimCode(ctx.Request.Context(), req.ClaimCode)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": result.Reason})
		return
	}
	if !result.Accepted {
		status := http.StatusConflict
		if result.Reason == api_models.ReasonCodeRejected || result.Reason == api_models.ReasonMalformedPayload {
			status = http.StatusBadRequest
		}
		ctx.JSON(status, gin.H{"error": result.Reason})
		return
	}
	ctx.JSON(http.StatusOK, result)
}

type UnclaimRequest struct {
	Actor string `json:"actor"`
}

func (c *ClaimController) Unclaim(ctx *gin.Context) {
	var req UnclaimRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := c.service.RequestLocalUnclaim(clmmodels.SourceAdminDashboard, req.Actor)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": result.Reason})
		return
	}
	if !result.Cleared {
		ctx.JSON(http.StatusConflict, gin.H{"error": result.Reason})
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (c *ClaimController) GetAudit(ctx *gin.Context) {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": c.audit.Recent(limit)})
}
