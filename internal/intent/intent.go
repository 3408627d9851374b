// Package intent maps free-text participant messages to workflow events.
//
// Keyword rules run first; a GenAI classifier can be attached as a fallback
// for messages the rules do not cover. Classification quality is best-effort:
// the workflow engine treats any event it does not recognize as a no-op.
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TrialRelay/internal/genai"
	"github.com/BTreeMap/TrialRelay/internal/workflow"
)

// Compliance intents outside the workflow event set.
const (
	IntentOptOut = "opt_out"
	IntentOptIn  = "opt_in"
	IntentOther  = "other"
)

const classifierSystemPrompt = `You are an intent classifier for a clinical trial WhatsApp assistant.
Return only one of: ["begin", "upload", "confirm", "provide_id", "validate_ok", "finish", "reset", "other"].
Reply ONLY with the intent label, no explanations.`

// Detect applies the keyword rules. It returns the detected intent and
// whether any rule matched.
func Detect(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}

	// Compliance keywords take precedence over everything else.
	switch lower {
	case "stop":
		return IntentOptOut, true
	case "start":
		return IntentOptIn, true
	}

	switch {
	case strings.Contains(lower, "reset") || strings.Contains(lower, "cancel"):
		return workflow.EventReset, true
	case strings.Contains(lower, "upload") || strings.Contains(lower, "receipt"):
		return workflow.EventUpload, true
	case strings.Contains(lower, "claim"):
		return workflow.EventBegin, true
	case strings.Contains(lower, "confirm") || lower == "yes" || lower == "y":
		return workflow.EventConfirm, true
	case strings.Contains(lower, "my id is") || strings.Contains(lower, "participant id"):
		return workflow.EventProvideID, true
	case strings.Contains(lower, "done") || strings.Contains(lower, "finish"):
		return workflow.EventFinish, true
	}
	return "", false
}

// Classifier detects intents with rules first and an optional GenAI fallback.
type Classifier struct {
	genai *genai.Client
}

// NewClassifier creates a Classifier. A nil genai client disables the
// fallback; unmatched messages then classify as other.
func NewClassifier(g *genai.Client) *Classifier {
	return &Classifier{genai: g}
}

// Classify returns the intent for the message. It never fails the caller:
// classifier errors degrade to IntentOther.
func (c *Classifier) Classify(ctx context.Context, text string) string {
	if intent, ok := Detect(text); ok {
		return intent
	}
	if c.genai == nil {
		return IntentOther
	}

	label, err := c.genai.Generate(ctx, classifierSystemPrompt, text)
	if err != nil {
		slog.Warn("Classifier.Classify fallback failed", "error", err)
		return IntentOther
	}
	label = strings.ToLower(strings.TrimSpace(label))
	if _, routed := workflow.Route(label); routed {
		return label
	}
	return IntentOther
}
