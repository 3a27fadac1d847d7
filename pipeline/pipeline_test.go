package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meal-analysis-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	mu         sync.Mutex
	statCalls  int
	fetchCalls int
	statErr    error
	fetchErr   error
	fetchDelay time.Duration
	payload    *ImagePayload
}

func (m *mockFetcher) Stat(ctx context.Context, loc Locator) error {
	m.mu.Lock()
	m.statCalls++
	m.mu.Unlock()
	return m.statErr
}

func (m *mockFetcher) Fetch(ctx context.Context, loc Locator) (*ImagePayload, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.mu.Unlock()
	if m.fetchDelay > 0 {
		time.Sleep(m.fetchDelay)
	}
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.payload, nil
}

func (m *mockFetcher) ObjectURL(loc Locator) string {
	return "https://storage.example.com/" + loc.Bucket + "/" + loc.File
}

type mockDetector struct {
	mu          sync.Mutex
	calls       int
	err         error
	detectDelay time.Duration
	items       []models.FoodItem
}

func (m *mockDetector) Detect(ctx context.Context, imageURL string) ([]models.FoodItem, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.detectDelay > 0 {
		time.Sleep(m.detectDelay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.items, nil
}

type mockAnalyzer struct {
	mu           sync.Mutex
	calls        int
	err          error
	analyzeDelay time.Duration
	panics       bool
	analysis     *models.ConversationAnalysis
	lastMealType string
}

func (m *mockAnalyzer) Analyze(ctx context.Context, payload *ImagePayload, mealType string) (*models.ConversationAnalysis, error) {
	m.mu.Lock()
	m.calls++
	m.lastMealType = mealType
	m.mu.Unlock()
	if m.panics {
		panic("analyzer exploded")
	}
	if m.analyzeDelay > 0 {
		time.Sleep(m.analyzeDelay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.analysis, nil
}

func happyCollaborators() (*mockFetcher, *mockDetector, *mockAnalyzer) {
	fetcher := &mockFetcher{
		payload: &ImagePayload{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg", Encoding: "raw"},
	}
	detector := &mockDetector{
		items: []models.FoodItem{{Label: "rice", Confidence: 0.92}},
	}
	analyzer := &mockAnalyzer{
		analysis: &models.ConversationAnalysis{
			SessionID: "thread_abc",
			RawText:   `{"title":"Lunch","summary":"Rice bowl","items":["rice"],"calorie_estimate":520,"health_score":0.7}`,
			Findings: &models.MealFindings{
				Title:           "Lunch",
				Summary:         "Rice bowl",
				Items:           []string{"rice"},
				CalorieEstimate: 520,
				HealthScore:     0.7,
			},
		},
	}
	return fetcher, detector, analyzer
}

func validRequest() Request {
	return Request{
		Locator:  Locator{Bucket: "imgs", File: "meal1.jpg"},
		MealType: "lunch",
		CallerID: "kakao:12345",
	}
}

func TestRunMissingLocator(t *testing.T) {
	testCases := []struct {
		name string
		loc  Locator
	}{
		{"missing bucket", Locator{File: "meal1.jpg"}},
		{"missing file", Locator{Bucket: "imgs"}},
		{"missing both", Locator{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher, detector, analyzer := happyCollaborators()
			o := NewOrchestrator(fetcher, detector, analyzer)

			req := validRequest()
			req.Locator = tc.loc
			resp, err := o.Run(context.Background(), req)

			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, KindInvalidArgument, KindOf(err))
			assert.Zero(t, fetcher.statCalls)
			assert.Zero(t, fetcher.fetchCalls)
			assert.Zero(t, detector.calls)
			assert.Zero(t, analyzer.calls)
		})
	}
}

func TestRunMissingCallerIdentity(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	o := NewOrchestrator(fetcher, detector, analyzer)

	req := validRequest()
	req.CallerID = ""
	resp, err := o.Run(context.Background(), req)

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
	assert.Zero(t, fetcher.statCalls)
	assert.Zero(t, detector.calls)
	assert.Zero(t, analyzer.calls)
}

func TestRunObjectNotFound(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	fetcher.statErr = E(KindNotFound, "image object imgs/meal1.jpg does not exist", nil)
	o := NewOrchestrator(fetcher, detector, analyzer)

	resp, err := o.Run(context.Background(), validRequest())

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Zero(t, fetcher.fetchCalls)
	assert.Zero(t, detector.calls)
	assert.Zero(t, analyzer.calls)
}

func TestRunDetectionFailureIsAllOrNothing(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	detector.err = E(KindUpstreamRejected, "detection API response error: 11102 invalid image", nil)
	o := NewOrchestrator(fetcher, detector, analyzer)

	resp, err := o.Run(context.Background(), validRequest())

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, KindUpstreamRejected, KindOf(err))
	assert.Zero(t, analyzer.calls)
}

func TestRunAnalyzerFailureIsAllOrNothing(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	analyzer.err = E(KindUpstreamUnavailable, "assistant service unreachable", errors.New("dial tcp: refused"))
	o := NewOrchestrator(fetcher, detector, analyzer)

	resp, err := o.Run(context.Background(), validRequest())

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, KindUpstreamUnavailable, KindOf(err))
	assert.Equal(t, 1, detector.calls)
}

func TestRunUnclassifiedErrorIsWrapped(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	fetcher.fetchErr = errors.New("some raw transport error")
	o := NewOrchestrator(fetcher, detector, analyzer)

	_, err := o.Run(context.Background(), validRequest())

	require.Error(t, err)
	assert.Equal(t, KindUpstreamUnavailable, KindOf(err))
}

func TestRunPanicMapsToInternal(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	analyzer.panics = true
	o := NewOrchestrator(fetcher, detector, analyzer)

	resp, err := o.Run(context.Background(), validRequest())

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestRunSuccess(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	o := NewOrchestrator(fetcher, detector, analyzer)

	resp, err := o.Run(context.Background(), validRequest())

	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Len(t, resp.Detection, 1)
	assert.Equal(t, "rice", resp.Detection[0].Label)
	assert.InDelta(t, 0.92, resp.Detection[0].Confidence, 1e-9)
	assert.Equal(t, "thread_abc", resp.Conversation.SessionID)
	assert.Equal(t, "lunch", analyzer.lastMealType)
	assert.Equal(t, 1, fetcher.statCalls)
	assert.Equal(t, 1, fetcher.fetchCalls)
	assert.Equal(t, 1, detector.calls)
	assert.Equal(t, 1, analyzer.calls)
}

func TestRunDefaultsMealType(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	o := NewOrchestrator(fetcher, detector, analyzer)

	req := validRequest()
	req.MealType = ""
	_, err := o.Run(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "unspecified", analyzer.lastMealType)
}

func TestRunIdempotent(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	o := NewOrchestrator(fetcher, detector, analyzer)

	first, err := o.Run(context.Background(), validRequest())
	require.NoError(t, err)
	second, err := o.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// Fetch and detect run concurrently, so a successful run takes about
// max(fetch, detect) + analyze rather than the sum of all three.
func TestRunFetchAndDetectOverlap(t *testing.T) {
	fetcher, detector, analyzer := happyCollaborators()
	fetcher.fetchDelay = 150 * time.Millisecond
	detector.detectDelay = 150 * time.Millisecond
	analyzer.analyzeDelay = 50 * time.Millisecond
	o := NewOrchestrator(fetcher, detector, analyzer)

	start := time.Now()
	_, err := o.Run(context.Background(), validRequest())
	elapsed := time.Since(start)

	require.NoError(t, err)
	// Sequential execution would take at least 350ms.
	assert.Less(t, elapsed, 300*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
}
