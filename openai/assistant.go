package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"meal-analysis-service/models"
	"meal-analysis-service/parser"
	"meal-analysis-service/pipeline"

	"github.com/apex/log"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ThreadResponse represents the response from creating a thread
type ThreadResponse struct {
	ID        string                 `json:"id"`
	Object    string                 `json:"object"`
	CreatedAt int64                  `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RunResponse represents the response from creating or polling a run
type RunResponse struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	CreatedAt   int64  `json:"created_at"`
	ThreadID    string `json:"thread_id"`
	AssistantID string `json:"assistant_id"`
	Status      string `json:"status"`
	LastError   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error,omitempty"`
	Model    string                 `json:"model"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// FileUploadResponse represents the response from a file upload
type FileUploadResponse struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Bytes    int    `json:"bytes"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}

// ThreadMessage represents a message in a thread
type ThreadMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text *struct {
			Value string `json:"value"`
		} `json:"text,omitempty"`
	} `json:"content"`
}

// AssistantClient talks to the OpenAI Assistants v2 API. One analysis is a
// fresh thread: upload file, create thread, add message, run, poll, read.
type AssistantClient struct {
	apiKey       string
	assistantID  string
	baseURL      string
	pollInterval time.Duration
	client       *http.Client
}

// NewAssistantClient creates a new assistant client.
func NewAssistantClient(apiKey, assistantID string, pollInterval time.Duration) *AssistantClient {
	if pollInterval <= 0 {
		pollInterval = 1 * time.Second
	}
	return &AssistantClient{
		apiKey:       apiKey,
		assistantID:  assistantID,
		baseURL:      defaultBaseURL,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint.
func (c *AssistantClient) SetBaseURL(u string) {
	c.baseURL = u
}

// Analyze submits the meal image plus category context to the assistant and
// returns its findings. Partially created threads are left behind on failure;
// they are inert server-side resources.
func (c *AssistantClient) Analyze(ctx context.Context, payload *pipeline.ImagePayload, mealType string) (*models.ConversationAnalysis, error) {
	fileID, err := c.uploadFile(ctx, payload.Data)
	if err != nil {
		return nil, err
	}

	threadID, err := c.createThread(ctx)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Meal category: %s. Analyze the attached meal photo and reply with a JSON object "+
		"containing title, summary, items (list of dish names), calorie_estimate and health_score (0.0-1.0).", mealType)
	if err := c.addMessageToThread(ctx, threadID, fileID, prompt); err != nil {
		return nil, err
	}

	runID, err := c.createRun(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if err := c.waitForRunCompletion(ctx, threadID, runID); err != nil {
		return nil, err
	}

	text, err := c.assistantReply(ctx, threadID)
	if err != nil {
		return nil, err
	}

	analysis := &models.ConversationAnalysis{
		SessionID: threadID,
		RawText:   text,
	}
	findings, err := parser.ParseFindings(text)
	if err != nil {
		log.Warnf("assistant reply for thread %s not parseable: %v", threadID, err)
	} else {
		analysis.Findings = findings
	}
	return analysis, nil
}

// uploadFile uploads the image and returns the file ID.
func (c *AssistantClient) uploadFile(ctx context.Context, fileBuf []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "meal.jpg")
	if err != nil {
		return "", pipeline.E(pipeline.KindInternal, "failed to create form file", err)
	}
	if _, err = part.Write(fileBuf); err != nil {
		return "", pipeline.E(pipeline.KindInternal, "failed to copy file data", err)
	}
	if err = writer.WriteField("purpose", "vision"); err != nil {
		return "", pipeline.E(pipeline.KindInternal, "failed to write purpose field", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", pipeline.E(pipeline.KindInternal, "failed to create upload request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	var fileResp FileUploadResponse
	if err := c.do(req, &fileResp); err != nil {
		return "", err
	}
	return fileResp.ID, nil
}

// createThread creates a new empty thread.
func (c *AssistantClient) createThread(ctx context.Context) (string, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, c.baseURL+"/threads",
		map[string]interface{}{"messages": []interface{}{}})
	if err != nil {
		return "", err
	}

	var threadResp ThreadResponse
	if err := c.do(req, &threadResp); err != nil {
		return "", err
	}
	return threadResp.ID, nil
}

// addMessageToThread posts the image plus context text as a user message.
func (c *AssistantClient) addMessageToThread(ctx context.Context, threadID, fileID, text string) error {
	reqBody := map[string]any{
		"role": "user",
		"content": []any{
			map[string]any{
				"type": "image_file",
				"image_file": map[string]any{
					"file_id": fileID,
				},
			},
			map[string]any{
				"type": "text",
				"text": text,
			},
		},
	}

	req, err := c.jsonRequest(ctx, http.MethodPost, c.baseURL+"/threads/"+threadID+"/messages", reqBody)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// createRun starts the assistant on the thread.
func (c *AssistantClient) createRun(ctx context.Context, threadID string) (string, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, c.baseURL+"/threads/"+threadID+"/runs",
		map[string]interface{}{"assistant_id": c.assistantID})
	if err != nil {
		return "", err
	}

	var runResp RunResponse
	if err := c.do(req, &runResp); err != nil {
		return "", err
	}
	return runResp.ID, nil
}

// waitForRunCompletion polls the run until it reaches a terminal state.
func (c *AssistantClient) waitForRunCompletion(ctx context.Context, threadID, runID string) error {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/threads/"+threadID+"/runs/"+runID, nil)
		if err != nil {
			return pipeline.E(pipeline.KindInternal, "failed to create run poll request", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("OpenAI-Beta", "assistants=v2")

		var runResp RunResponse
		if err := c.do(req, &runResp); err != nil {
			return err
		}

		switch runResp.Status {
		case "completed":
			return nil
		case "failed":
			if runResp.LastError != nil {
				return pipeline.E(pipeline.KindUpstreamRejected,
					fmt.Sprintf("assistant run failed: %s - %s",
						runResp.LastError.Code, runResp.LastError.Message), nil)
			}
			return pipeline.E(pipeline.KindUpstreamRejected, "assistant run failed", nil)
		case "cancelled":
			return pipeline.E(pipeline.KindUpstreamRejected, "assistant run was cancelled", nil)
		case "expired":
			return pipeline.E(pipeline.KindUpstreamRejected, "assistant run expired", nil)
		default:
			// Still running.
			select {
			case <-ctx.Done():
				return pipeline.E(pipeline.KindUpstreamUnavailable,
					"assistant run abandoned", ctx.Err())
			case <-time.After(c.pollInterval):
			}
		}
	}
}

// assistantReply reads the thread and returns the assistant's first text answer.
func (c *AssistantClient) assistantReply(ctx context.Context, threadID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/threads/"+threadID+"/messages", nil)
	if err != nil {
		return "", pipeline.E(pipeline.KindInternal, "failed to create messages request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	var response struct {
		Object  string          `json:"object"`
		Data    []ThreadMessage `json:"data"`
		HasMore bool            `json:"has_more"`
	}
	if err := c.do(req, &response); err != nil {
		return "", err
	}

	for _, message := range response.Data {
		if message.Role != "assistant" {
			continue
		}
		for _, content := range message.Content {
			if content.Type == "text" && content.Text != nil && content.Text.Value != "" {
				return content.Text.Value, nil
			}
		}
	}
	return "", pipeline.E(pipeline.KindUpstreamRejected, "no response received from assistant", nil)
}

// jsonRequest builds a POST request with the assistants headers set.
func (c *AssistantClient) jsonRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, pipeline.E(pipeline.KindInternal, "failed to marshal request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, pipeline.E(pipeline.KindInternal, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	return req, nil
}

// do sends the request, classifies failures and decodes into out when non-nil.
func (c *AssistantClient) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return pipeline.E(pipeline.KindUpstreamUnavailable, "assistant service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.E(pipeline.KindUpstreamUnavailable, "failed to read assistant response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return pipeline.E(pipeline.KindUpstreamRejected,
			fmt.Sprintf("assistant API error (status %d): %s", resp.StatusCode, string(body)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return pipeline.E(pipeline.KindUpstreamRejected, "failed to parse assistant response", err)
	}
	return nil
}
