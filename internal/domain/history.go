package domain

import "time"

// HistoryStatus is the lifecycle state of a processing attempt.
type HistoryStatus string

const (
	StatusPending   HistoryStatus = "pending"
	StatusCompleted HistoryStatus = "completed"
	StatusFailed    HistoryStatus = "failed"
)

// Valid reports whether s is a known status.
func (s HistoryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Final reports whether no further transition is allowed.
func (s HistoryStatus) Final() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepStatus is the outcome of a single workflow step.
type StepStatus string

const (
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Workflow step titles, in pipeline order.
const (
	StepUploadOriginal  = "upload-original"
	StepTranslate       = "translate"
	StepEnhance         = "enhance"
	StepTransform       = "transform"
	StepLocalFallback   = "local-fallback"
	StepUploadProcessed = "upload-processed"
)

// WorkflowStep records one stage of a processing attempt.
type WorkflowStep struct {
	Title     string     `json:"title"`
	Status    StepStatus `json:"status"`
	Prompt    *string    `json:"prompt,omitempty"`
	Response  *string    `json:"response,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// FileMeta describes the uploaded image.
type FileMeta struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MIMEType string `json:"mimeType"`
}

// HistoryEntry is the durable record of one processing attempt.
type HistoryEntry struct {
	ID                string         `json:"id"`
	UserID            string         `json:"userId,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	OriginalPrompt    string         `json:"originalPrompt"`
	TranslatedPrompt  *string        `json:"translatedPrompt"`
	EnhancedPrompt    *string        `json:"enhancedPrompt"`
	OriginalImageURL  *string        `json:"originalImageUrl"`
	OriginalImageKey  *string        `json:"originalImageKey,omitempty"`
	ProcessedImageURL *string        `json:"processedImageUrl"`
	ProcessedImageKey *string        `json:"processedImageKey,omitempty"`
	ProcessingTime    int64          `json:"processingTime"`
	Status            HistoryStatus  `json:"status"`
	Error             *string        `json:"error"`
	WorkflowSteps     []WorkflowStep `json:"workflowSteps"`
	Metadata          FileMeta       `json:"metadata"`
}

// BlobKeys returns the stored image keys referenced by the entry.
func (e HistoryEntry) BlobKeys() []string {
	var keys []string
	if e.OriginalImageKey != nil && *e.OriginalImageKey != "" {
		keys = append(keys, *e.OriginalImageKey)
	}
	if e.ProcessedImageKey != nil && *e.ProcessedImageKey != "" {
		keys = append(keys, *e.ProcessedImageKey)
	}
	return keys
}

// OutcomeRecord is what a processing attempt returns to its caller.
type OutcomeRecord struct {
	HistoryID         string         `json:"historyId"`
	Status            HistoryStatus  `json:"status"`
	OriginalImageURL  *string        `json:"originalImageUrl"`
	ProcessedImageURL *string        `json:"processedImageUrl"`
	ProcessingTime    int64          `json:"processingTime"`
	WorkflowSteps     []WorkflowStep `json:"workflowSteps"`
	Error             *string        `json:"error,omitempty"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
