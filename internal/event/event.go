package event

import (
	"fmt"
)

// Subjects the pipeline publishes on. DLQ subjects derive from these as
// dlq.{subject}.{group}.
const (
	SubjectDocumentsCreated   = "documents.created"
	SubjectPagesRendered      = "pages.rendered"
	SubjectPagesExtracted     = "pages.extracted"
	SubjectAudioSynthesized   = "audio.synthesized"
	SubjectAudioTranscoded    = "audio.transcoded"
	SubjectWorkflowsCompleted = "workflows.completed"
)

// Type discriminators carried in the envelope.
const (
	TypeSourceCreated     = "source_created"
	TypePageRendered      = "page_rendered"
	TypePageExtracted     = "page_extracted"
	TypeAudioSynthesized  = "audio_synthesized"
	TypeAudioTranscoded   = "audio_transcoded"
	TypeWorkflowCompleted = "workflow_completed"
)

// DLQSubject names the dead-letter subject for a subject/group pair.
func DLQSubject(subject, group string) string {
	return "dlq." + subject + "." + group
}

// Subjects returns every pipeline subject in stage order.
func Subjects() []string {
	return []string{
		SubjectDocumentsCreated,
		SubjectPagesRendered,
		SubjectPagesExtracted,
		SubjectAudioSynthesized,
		SubjectAudioTranscoded,
		SubjectWorkflowsCompleted,
	}
}

// Header is the common metadata carried by every event.
type Header struct {
	EventID     string `json:"event_id"`
	WorkflowID  string `json:"workflow_id"`
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Validate checks the required header fields.
func (h Header) Validate() error {
	if h.EventID == "" {
		return &ValidationError{Field: "event_id", Reason: "required"}
	}
	if h.WorkflowID == "" {
		return &ValidationError{Field: "workflow_id", Reason: "required"}
	}
	if h.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if h.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if h.CreatedAtMs <= 0 {
		return &ValidationError{Field: "created_at_ms", Reason: "required"}
	}
	return nil
}

// ValidationError marks a schema violation. Schema violations are terminal;
// deliveries carrying one dead-letter immediately instead of retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event: invalid %s: %s", e.Field, e.Reason)
}

// Event is implemented by every typed payload.
type Event interface {
	EventType() string
	Validate() error
}

// SourceCreated announces a submitted source document.
type SourceCreated struct {
	SourceBucket string `json:"source_bucket"`
	SourceKey    string `json:"source_key"`
	MediaType    string `json:"media_type"`
}

func (SourceCreated) EventType() string { return TypeSourceCreated }

func (e SourceCreated) Validate() error {
	if e.SourceBucket == "" {
		return &ValidationError{Field: "source_bucket", Reason: "required"}
	}
	if e.SourceKey == "" {
		return &ValidationError{Field: "source_key", Reason: "required"}
	}
	if e.MediaType == "" {
		return &ValidationError{Field: "media_type", Reason: "required"}
	}
	return nil
}

// PageRendered carries one rendered page image.
type PageRendered struct {
	ImageKey   string `json:"image_key"`
	PageNumber int    `json:"page_number"`
	TotalPages int    `json:"total_pages"`
}

func (PageRendered) EventType() string { return TypePageRendered }

func (e PageRendered) Validate() error {
	if e.ImageKey == "" {
		return &ValidationError{Field: "image_key", Reason: "required"}
	}
	return validatePageBounds(e.PageNumber, e.TotalPages)
}

// PageExtracted carries the recognized text of one page.
type PageExtracted struct {
	TextKey    string `json:"text_key"`
	PageNumber int    `json:"page_number"`
	TotalPages int    `json:"total_pages"`
}

func (PageExtracted) EventType() string { return TypePageExtracted }

func (e PageExtracted) Validate() error {
	if e.TextKey == "" {
		return &ValidationError{Field: "text_key", Reason: "required"}
	}
	return validatePageBounds(e.PageNumber, e.TotalPages)
}

// AudioSynthesized carries the raw synthesized audio of one page.
type AudioSynthesized struct {
	RawAudioKey string `json:"raw_audio_key"`
	PageNumber  int    `json:"page_number"`
	TotalPages  int    `json:"total_pages"`
}

func (AudioSynthesized) EventType() string { return TypeAudioSynthesized }

func (e AudioSynthesized) Validate() error {
	if e.RawAudioKey == "" {
		return &ValidationError{Field: "raw_audio_key", Reason: "required"}
	}
	return validatePageBounds(e.PageNumber, e.TotalPages)
}

// AudioTranscoded carries the compressed audio of one page.
type AudioTranscoded struct {
	AudioKey   string `json:"audio_key"`
	PageNumber int    `json:"page_number"`
	TotalPages int    `json:"total_pages"`
}

func (AudioTranscoded) EventType() string { return TypeAudioTranscoded }

func (e AudioTranscoded) Validate() error {
	if e.AudioKey == "" {
		return &ValidationError{Field: "audio_key", Reason: "required"}
	}
	return validatePageBounds(e.PageNumber, e.TotalPages)
}

// WorkflowCompleted announces a fully assembled workflow.
type WorkflowCompleted struct {
	ManifestKey string `json:"manifest_key"`
	TotalPages  int    `json:"total_pages"`
}

func (WorkflowCompleted) EventType() string { return TypeWorkflowCompleted }

func (e WorkflowCompleted) Validate() error {
	if e.ManifestKey == "" {
		return &ValidationError{Field: "manifest_key", Reason: "required"}
	}
	if e.TotalPages < 1 {
		return &ValidationError{Field: "total_pages", Reason: "must be >= 1"}
	}
	return nil
}

func validatePageBounds(page, total int) error {
	if total < 1 {
		return &ValidationError{Field: "total_pages", Reason: "must be >= 1"}
	}
	if page < 1 || page > total {
		return &ValidationError{Field: "page_number", Reason: fmt.Sprintf("must be in [1,%d]", total)}
	}
	return nil
}
