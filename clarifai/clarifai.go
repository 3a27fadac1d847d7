package clarifai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"meal-analysis-service/models"
	"meal-analysis-service/pipeline"
)

const defaultBaseURL = "https://api.clarifai.com/v2"

// statusSuccess is Clarifai's application-level success code.
const statusSuccess = 10000

// Client calls the Clarifai model API for food-item recognition.
type Client struct {
	pat            string
	userID         string
	appID          string
	modelID        string
	modelVersionID string
	baseURL        string
	client         *http.Client
}

// NewClient creates a new Clarifai client.
func NewClient(pat, userID, appID, modelID, modelVersionID string) *Client {
	return &Client{
		pat:            pat,
		userID:         userID,
		appID:          appID,
		modelID:        modelID,
		modelVersionID: modelVersionID,
		baseURL:        defaultBaseURL,
		client:         &http.Client{Timeout: 60 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

type outputsRequest struct {
	Inputs []input `json:"inputs"`
}

type input struct {
	Data inputData `json:"data"`
}

type inputData struct {
	Image inputImage `json:"image"`
}

type inputImage struct {
	URL               string `json:"url"`
	AllowDuplicateURL bool   `json:"allow_duplicate_url"`
}

type apiStatus struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

type outputsResponse struct {
	Status  apiStatus `json:"status"`
	Outputs []struct {
		Status apiStatus `json:"status"`
		Data   struct {
			Concepts []struct {
				ID    string  `json:"id"`
				Name  string  `json:"name"`
				Value float64 `json:"value"`
			} `json:"concepts"`
		} `json:"data"`
	} `json:"outputs"`
}

// Detect sends the image reference to the model and returns the recognized
// food items ordered as the model returned them.
func (c *Client) Detect(ctx context.Context, imageURL string) ([]models.FoodItem, error) {
	reqBody := outputsRequest{
		Inputs: []input{
			{Data: inputData{Image: inputImage{URL: imageURL, AllowDuplicateURL: true}}},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, pipeline.E(pipeline.KindInternal, "failed to marshal detection request", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/apps/%s/models/%s/versions/%s/outputs",
		c.baseURL, c.userID, c.appID, c.modelID, c.modelVersionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, pipeline.E(pipeline.KindInternal, "failed to create detection request", err)
	}
	req.Header.Set("Authorization", "Key "+c.pat)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, pipeline.E(pipeline.KindUpstreamUnavailable,
			"detection service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeline.E(pipeline.KindUpstreamUnavailable,
			"failed to read detection response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, pipeline.E(pipeline.KindUpstreamRejected,
			fmt.Sprintf("detection API error (status %d): %s", resp.StatusCode, string(body)), nil)
	}

	var outResp outputsResponse
	if err := json.Unmarshal(body, &outResp); err != nil {
		return nil, pipeline.E(pipeline.KindUpstreamRejected,
			"failed to parse detection response", err)
	}

	// The upstream code and description are surfaced verbatim so callers can
	// tell a down service from a rejected input.
	if outResp.Status.Code != statusSuccess {
		return nil, pipeline.E(pipeline.KindUpstreamRejected,
			fmt.Sprintf("detection API response error: %d %s",
				outResp.Status.Code, outResp.Status.Description), nil)
	}

	if len(outResp.Outputs) == 0 {
		return nil, pipeline.E(pipeline.KindUpstreamRejected,
			"detection API returned no outputs", nil)
	}

	items := make([]models.FoodItem, 0, len(outResp.Outputs[0].Data.Concepts))
	for _, concept := range outResp.Outputs[0].Data.Concepts {
		items = append(items, models.FoodItem{
			Label:      concept.Name,
			Confidence: concept.Value,
		})
	}
	return items, nil
}
