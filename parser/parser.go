package parser

import (
	"encoding/json"
	"errors"
	"strings"

	"meal-analysis-service/models"
)

// extractJSONFromMarkdown extracts JSON from markdown code blocks
func extractJSONFromMarkdown(response string) string {
	startMarker := "```"
	endMarker := "```"

	startIdx := strings.Index(response, startMarker)
	if startIdx == -1 {
		// No code block found, try to find JSON object directly
		startIdx = strings.Index(response, "{")
		if startIdx == -1 {
			return response
		}
		endIdx := strings.LastIndex(response, "}")
		if endIdx == -1 {
			return response
		}
		return strings.TrimSpace(response[startIdx : endIdx+1])
	}

	endIdx := strings.Index(response[startIdx+len(startMarker):], endMarker)
	if endIdx == -1 {
		return response
	}
	endIdx += startIdx + len(startMarker)

	content := response[startIdx+len(startMarker) : endIdx]

	// Remove the language identifier if present (e.g., "json")
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > 0 && (strings.TrimSpace(lines[0]) == "json" || strings.TrimSpace(lines[0]) == "") {
		content = strings.Join(lines[1:], "\n")
	}

	return strings.TrimSpace(content)
}

// ParseFindings parses the assistant's reply into structured meal findings.
// Replies may arrive as bare JSON or wrapped in a markdown code fence.
func ParseFindings(response string) (*models.MealFindings, error) {
	cleaned := strings.TrimSpace(response)
	if cleaned == "" {
		return nil, errors.New("empty response")
	}

	jsonContent := extractJSONFromMarkdown(cleaned)

	var result models.MealFindings
	if err := json.Unmarshal([]byte(jsonContent), &result); err != nil {
		return nil, err
	}

	if result.Title == "" {
		return nil, errors.New("title is required")
	}
	if result.Summary == "" {
		return nil, errors.New("summary is required")
	}
	if result.CalorieEstimate < 0 {
		return nil, errors.New("calorie_estimate must not be negative")
	}
	if result.HealthScore < 0 || result.HealthScore > 1 {
		return nil, errors.New("health_score must be between 0 and 1")
	}

	return &result, nil
}
