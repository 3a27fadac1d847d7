package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"meal-analysis-service/middleware"
	"meal-analysis-service/models"
	"meal-analysis-service/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	resp  *models.AnalyzeResponse
	err   error
	last  pipeline.Request
}

func (s *stubRunner) Run(ctx context.Context, req pipeline.Request) (*models.AnalyzeResponse, error) {
	s.mu.Lock()
	s.calls++
	s.last = req
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

type stubMinter struct {
	calls int
	token string
	err   error
}

func (s *stubMinter) MintCustomToken(ctx context.Context, req models.TokenRequest) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

type stubVerifier struct {
	uid string
	err error
}

func (s *stubVerifier) VerifyToken(token string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.uid, nil
}

func newTestRouter(runner *stubRunner, minter *stubMinter, verifier *stubVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(runner, minter, nil, "asia-northeast3")

	router := gin.New()
	api := router.Group("/api/v3")
	{
		api.GET("/health", h.HealthCheck)
		api.POST("/token", h.CreateToken)
		api.POST("/analyze", middleware.AuthMiddleware(verifier), h.Analyze)
	}
	return router
}

func analyzeRequest(t *testing.T, body interface{}, withAuth bool) *http.Request {
	t.Helper()
	jsonBody, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v3/analyze", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	if withAuth {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	return req
}

func TestAnalyzeSuccess(t *testing.T) {
	runner := &stubRunner{
		resp: &models.AnalyzeResponse{
			Detection: []models.FoodItem{{Label: "rice", Confidence: 0.92}},
			Conversation: &models.ConversationAnalysis{
				SessionID: "thread_abc",
				RawText:   "Rice bowl",
			},
		},
	}
	router := newTestRouter(runner, &stubMinter{}, &stubVerifier{uid: "kakao:12345"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, analyzeRequest(t, models.AnalyzeRequest{
		BucketName: "imgs",
		FileName:   "meal1.jpg",
		MealType:   "lunch",
	}, true))

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.AnalyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Detection, 1)
	assert.Equal(t, "rice", resp.Detection[0].Label)
	assert.InDelta(t, 0.92, resp.Detection[0].Confidence, 1e-9)
	assert.Equal(t, "thread_abc", resp.Conversation.SessionID)

	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, "kakao:12345", runner.last.CallerID)
	assert.Equal(t, "lunch", runner.last.MealType)
}

func TestAnalyzeMissingAuthHeader(t *testing.T) {
	runner := &stubRunner{}
	router := newTestRouter(runner, &stubMinter{}, &stubVerifier{uid: "kakao:12345"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, analyzeRequest(t, models.AnalyzeRequest{
		BucketName: "imgs",
		FileName:   "meal1.jpg",
	}, false))

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unauthenticated", resp.Error)
	assert.Zero(t, runner.calls)
}

func TestAnalyzeRejectedToken(t *testing.T) {
	runner := &stubRunner{}
	router := newTestRouter(runner, &stubMinter{}, &stubVerifier{err: errors.New("expired")})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, analyzeRequest(t, models.AnalyzeRequest{
		BucketName: "imgs",
		FileName:   "meal1.jpg",
	}, true))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, runner.calls)
}

func TestAnalyzeErrorMapping(t *testing.T) {
	testCases := []struct {
		kind       pipeline.Kind
		wantStatus int
	}{
		{pipeline.KindInvalidArgument, http.StatusBadRequest},
		{pipeline.KindNotFound, http.StatusNotFound},
		{pipeline.KindUpstreamUnavailable, http.StatusServiceUnavailable},
		{pipeline.KindUpstreamRejected, http.StatusBadGateway},
		{pipeline.KindInternal, http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			runner := &stubRunner{err: pipeline.E(tc.kind, "stage failed", nil)}
			router := newTestRouter(runner, &stubMinter{}, &stubVerifier{uid: "kakao:12345"})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, analyzeRequest(t, models.AnalyzeRequest{
				BucketName: "imgs",
				FileName:   "meal1.jpg",
			}, true))

			assert.Equal(t, tc.wantStatus, w.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, string(tc.kind), resp.Error)
			assert.Equal(t, "stage failed", resp.Message)
		})
	}
}

func TestCreateTokenSuccess(t *testing.T) {
	minter := &stubMinter{token: "signed.jwt.token"}
	router := newTestRouter(&stubRunner{}, minter, &stubVerifier{})

	body, _ := json.Marshal(models.TokenRequest{
		ID:       "12345",
		Email:    "user@example.com",
		Nickname: "tester",
	})
	req := httptest.NewRequest("POST", "/api/v3/token", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "signed.jwt.token", resp.Token)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 1, minter.calls)
}

func TestCreateTokenMissingFields(t *testing.T) {
	minter := &stubMinter{token: "signed.jwt.token"}
	router := newTestRouter(&stubRunner{}, minter, &stubVerifier{})

	body, _ := json.Marshal(models.TokenRequest{ID: "12345"})
	req := httptest.NewRequest("POST", "/api/v3/token", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, minter.calls)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "required")
	assert.Contains(t, resp, "received")
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&stubRunner{}, &stubMinter{}, &stubVerifier{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v3/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "asia-northeast3", resp["region"])
	assert.NotEmpty(t, resp["timestamp"])
}
