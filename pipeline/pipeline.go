package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meal-analysis-service/metrics"
	"meal-analysis-service/models"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// Locator identifies a stored image by bucket and object key.
type Locator struct {
	Bucket string
	File   string
}

func (l Locator) String() string {
	return l.Bucket + "/" + l.File
}

// ImagePayload is the fetched image, owned by a single pipeline invocation.
type ImagePayload struct {
	Data        []byte
	ContentType string
	Encoding    string
}

// Request is one analysis invocation.
type Request struct {
	Locator  Locator
	MealType string
	CallerID string
}

// BlobFetcher retrieves uploaded images from object storage.
type BlobFetcher interface {
	// Stat reports whether the object exists without downloading it.
	Stat(ctx context.Context, loc Locator) error
	Fetch(ctx context.Context, loc Locator) (*ImagePayload, error)
	// ObjectURL returns a reference the detection service can read the object from.
	ObjectURL(loc Locator) string
}

// Detector sends an image reference to the detection service.
type Detector interface {
	Detect(ctx context.Context, imageURL string) ([]models.FoodItem, error)
}

// Analyzer submits the image payload to the conversational assistant.
type Analyzer interface {
	Analyze(ctx context.Context, payload *ImagePayload, mealType string) (*models.ConversationAnalysis, error)
}

// Orchestrator runs the analysis pipeline against injected collaborators.
type Orchestrator struct {
	fetcher  BlobFetcher
	detector Detector
	analyzer Analyzer
}

// NewOrchestrator creates a new pipeline orchestrator.
func NewOrchestrator(fetcher BlobFetcher, detector Detector, analyzer Analyzer) *Orchestrator {
	return &Orchestrator{
		fetcher:  fetcher,
		detector: detector,
		analyzer: analyzer,
	}
}

// Run executes the pipeline: validate, {fetch || detect}, analyze, merge.
// Every failure is classified; a failed stage aborts the rest and the caller
// never receives partial results.
func (o *Orchestrator) Run(ctx context.Context, req Request) (resp *models.AnalyzeResponse, err error) {
	start := time.Now()
	metrics.PipelineInFlight.Inc()
	defer metrics.PipelineInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("pipeline panic for %s: %v", req.Locator, r)
			resp = nil
			err = E(KindInternal, "internal server error", fmt.Errorf("panic: %v", r))
		}
		kind := "ok"
		if err != nil {
			kind = string(KindOf(err))
		}
		metrics.PipelineRunsTotal.WithLabelValues(kind).Inc()
		metrics.PipelineDurationSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	if err := validate(req); err != nil {
		return nil, err
	}

	// The existence probe runs before anything else so a missing object costs
	// no detection or analysis calls.
	if err := o.statStage(ctx, req.Locator); err != nil {
		return nil, err
	}

	var (
		payload   *ImagePayload
		detection []models.FoodItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var ferr error
		payload, ferr = o.fetchStage(gctx, req.Locator)
		return ferr
	})
	g.Go(func() error {
		var derr error
		detection, derr = o.detectStage(gctx, req.Locator)
		return derr
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	conversation, err := o.analyzeStage(ctx, payload, req.MealType)
	if err != nil {
		return nil, err
	}

	log.Infof("analyzed %s: %d detected items, thread %s",
		req.Locator, len(detection), conversation.SessionID)

	return &models.AnalyzeResponse{
		Detection:    detection,
		Conversation: conversation,
	}, nil
}

func validate(req Request) error {
	if req.CallerID == "" {
		return E(KindUnauthenticated, "caller identity is required", nil)
	}
	if req.Locator.Bucket == "" || req.Locator.File == "" {
		return E(KindInvalidArgument, "bucketName and fileName are required", nil)
	}
	return nil
}

func (o *Orchestrator) statStage(ctx context.Context, loc Locator) error {
	start := time.Now()
	err := o.fetcher.Stat(ctx, loc)
	metrics.StageDurationSeconds.WithLabelValues("stat").Observe(time.Since(start).Seconds())
	if err != nil {
		return classify(err, KindUpstreamUnavailable, "failed to locate image object")
	}
	return nil
}

func (o *Orchestrator) fetchStage(ctx context.Context, loc Locator) (*ImagePayload, error) {
	start := time.Now()
	payload, err := o.fetcher.Fetch(ctx, loc)
	metrics.StageDurationSeconds.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classify(err, KindUpstreamUnavailable, "failed to fetch image object")
	}
	return payload, nil
}

func (o *Orchestrator) detectStage(ctx context.Context, loc Locator) ([]models.FoodItem, error) {
	start := time.Now()
	detection, err := o.detector.Detect(ctx, o.fetcher.ObjectURL(loc))
	metrics.StageDurationSeconds.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classify(err, KindUpstreamUnavailable, "object detection failed")
	}
	return detection, nil
}

func (o *Orchestrator) analyzeStage(ctx context.Context, payload *ImagePayload, mealType string) (*models.ConversationAnalysis, error) {
	if mealType == "" {
		mealType = "unspecified"
	}
	start := time.Now()
	conversation, err := o.analyzer.Analyze(ctx, payload, mealType)
	metrics.StageDurationSeconds.WithLabelValues("analyze").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classify(err, KindUpstreamUnavailable, "conversational analysis failed")
	}
	return conversation, nil
}

// classify keeps already-classified errors intact and folds everything else
// into the given default kind.
func classify(err error, kind Kind, message string) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return E(kind, message, err)
}
