package models

// AnalyzeRequest is the body of POST /api/v3/analyze
type AnalyzeRequest struct {
	BucketName string `json:"bucketName"`
	FileName   string `json:"fileName"`
	MealType   string `json:"mealType"`
}

// FoodItem is a single detected food label with its confidence
type FoodItem struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// MealFindings is the structured result parsed from the assistant's reply
type MealFindings struct {
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Items           []string `json:"items"`
	CalorieEstimate float64  `json:"calorie_estimate"`
	HealthScore     float64  `json:"health_score"`
}

// ConversationAnalysis is the assistant's findings keyed by the thread that produced them
type ConversationAnalysis struct {
	SessionID string        `json:"sessionId"`
	RawText   string        `json:"rawText"`
	Findings  *MealFindings `json:"findings,omitempty"`
}

// AnalyzeResponse is the body of a successful analysis
type AnalyzeResponse struct {
	Detection    []FoodItem            `json:"detection"`
	Conversation *ConversationAnalysis `json:"conversation"`
}

// TokenRequest is the body of POST /api/v3/token
type TokenRequest struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Nickname        string `json:"nickname"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// TokenResponse is the body of a successful token mint
type TokenResponse struct {
	Token  string `json:"token"`
	Status string `json:"status"`
}

// User represents a federated-login user record
type User struct {
	UID             string `json:"uid"`
	Email           string `json:"email"`
	Nickname        string `json:"nickname"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AnalyzedMealEvent is published after each successful pipeline run
type AnalyzedMealEvent struct {
	UserID       string                `json:"user_id"`
	Bucket       string                `json:"bucket"`
	File         string                `json:"file"`
	MealType     string                `json:"meal_type"`
	Detection    []FoodItem            `json:"detection"`
	Conversation *ConversationAnalysis `json:"conversation"`
}
