package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/triage-ai/moderation/internal/engine"
)

// EventWriter is the interface for writing violation events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ViolationEvent)
	Close()
}

// ViolationEvent is one recorded violation as persisted for analytics.
type ViolationEvent struct {
	EventID          string
	RequestID        string
	UserID           string
	Timestamp        time.Time
	PromptPreview    string // First 500 chars
	PromptHash       string // SHA256 of full prompt
	PromptSize       uint32
	ViolationType    string
	ViolationDetails string
	Action           string
	WarningCount     uint16
	MaxWarnings      uint16
}

// PromptPreviewLength is the max chars stored in prompt_preview.
const PromptPreviewLength = 500

// TruncatePrompt returns the first N characters (runes) of a prompt for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncatePrompt(prompt string, maxLen int) string {
	runes := []rune(prompt)
	if len(runes) <= maxLen {
		return prompt
	}
	return string(runes[:maxLen])
}

// NewViolationEvent converts an engine event into its stored form.
func NewViolationEvent(ev *engine.ViolationEvent) *ViolationEvent {
	sum := sha256.Sum256([]byte(ev.Prompt))
	return &ViolationEvent{
		EventID:          ev.EventID,
		RequestID:        ev.RequestID,
		UserID:           ev.UserID,
		Timestamp:        ev.Timestamp.UTC(),
		PromptPreview:    TruncatePrompt(ev.Prompt, PromptPreviewLength),
		PromptHash:       hex.EncodeToString(sum[:]),
		PromptSize:       uint32(len(ev.Prompt)),
		ViolationType:    string(ev.ViolationType),
		ViolationDetails: ev.ViolationDetails,
		Action:           string(ev.Action),
		WarningCount:     uint16(ev.WarningCount),
		MaxWarnings:      uint16(ev.MaxWarnings),
	}
}

// Notifier adapts an EventWriter to the engine's notification hook.
type Notifier struct {
	writer EventWriter
}

var _ engine.Notifier = (*Notifier)(nil)

func NewNotifier(w EventWriter) *Notifier {
	return &Notifier{writer: w}
}

func (n *Notifier) Notify(ev *engine.ViolationEvent) {
	n.writer.Write(NewViolationEvent(ev))
}
