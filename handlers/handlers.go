package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"meal-analysis-service/database"
	"meal-analysis-service/metrics"
	"meal-analysis-service/models"
	"meal-analysis-service/pipeline"
	"meal-analysis-service/rabbitmq"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// PipelineRunner runs one analysis request.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*models.AnalyzeResponse, error)
}

// TokenMinter mints custom tokens for federated logins.
type TokenMinter interface {
	MintCustomToken(ctx context.Context, req models.TokenRequest) (string, error)
}

// Handlers represents the HTTP handlers
type Handlers struct {
	runner    PipelineRunner
	tokens    TokenMinter
	publisher *rabbitmq.Publisher
	region    string
}

// NewHandlers creates new HTTP handlers
func NewHandlers(runner PipelineRunner, tokens TokenMinter, publisher *rabbitmq.Publisher, region string) *Handlers {
	return &Handlers{
		runner:    runner,
		tokens:    tokens,
		publisher: publisher,
		region:    region,
	}
}

// Analyze handles POST /api/v3/analyze
func (h *Handlers) Analyze(c *gin.Context) {
	uid := c.GetString("user_id")

	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   string(pipeline.KindInvalidArgument),
			Message: err.Error(),
		})
		return
	}

	resp, err := h.runner.Run(c.Request.Context(), pipeline.Request{
		Locator:  pipeline.Locator{Bucket: req.BucketName, File: req.FileName},
		MealType: req.MealType,
		CallerID: uid,
	})
	if err != nil {
		kind := pipeline.KindOf(err)
		log.Errorf("analysis failed for %s/%s: %v", req.BucketName, req.FileName, err)
		c.JSON(pipeline.HTTPStatus(kind), models.ErrorResponse{
			Error:   string(kind),
			Message: pipeline.MessageOf(err),
		})
		return
	}

	// Best-effort event; analysis still succeeds when the broker is away.
	if err := h.publisher.Publish(models.AnalyzedMealEvent{
		UserID:       uid,
		Bucket:       req.BucketName,
		File:         req.FileName,
		MealType:     req.MealType,
		Detection:    resp.Detection,
		Conversation: resp.Conversation,
	}); err != nil {
		log.Warnf("failed to publish analyzed meal event: %v", err)
	}

	c.JSON(http.StatusOK, resp)
}

// CreateToken handles POST /api/v3/token
func (h *Handlers) CreateToken(c *gin.Context) {
	var req models.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   string(pipeline.KindInvalidArgument),
			Message: err.Error(),
		})
		return
	}

	if req.ID == "" || req.Email == "" || req.Nickname == "" {
		metrics.TokensMintedTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "missing required fields",
			"required": []string{"id", "email", "nickname"},
			"received": gin.H{"id": req.ID, "email": req.Email, "nickname": req.Nickname},
		})
		return
	}

	token, err := h.tokens.MintCustomToken(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			metrics.TokensMintedTotal.WithLabelValues("email_taken").Inc()
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "email_already_exists",
				Message: "this email is already in use, please use another one",
			})
			return
		}
		metrics.TokensMintedTotal.WithLabelValues("error").Inc()
		log.Errorf("failed to mint custom token: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   string(pipeline.KindInternal),
			Message: "failed to create custom token",
		})
		return
	}

	metrics.TokensMintedTotal.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, models.TokenResponse{
		Token:  token,
		Status: "success",
	})
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"region":    h.region,
	})
}
