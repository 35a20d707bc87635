package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/ai"
	"talkingrock/internal/conversation"
)

// Jailbreak verdicts
const (
	JailbreakSafe    = "safe"
	JailbreakBlocked = "blocked"
	JailbreakError   = "error"
)

// Jailbreak reason codes emitted by the classifier
var jailbreakReasons = map[string]bool{
	"none":                 true,
	"instruction_override": true,
	"prompt_extraction":    true,
	"roleplay_attack":      true,
	"encoding_trick":       true,
	"manipulation":         true,
	"multi_turn_attack":    true,
}

// JailbreakResult is the outcome of the jailbreak classifier
type JailbreakResult struct {
	Status     string
	Passed     bool
	Reason     string
	Confidence float64
	Call       *ai.ChatResult
}

// Confidence policy: BLOCKED at or above blockThreshold terminates, and a
// SAFE verdict below safeFloor is not trusted either.
const (
	jailbreakBlockThreshold = 0.5
	jailbreakSafeFloor      = 0.3
)

// multi-turn window handed to the classifier
const jailbreakHistoryTurns = 2

// JailbreakDetector is the small-model classifier between deterministic
// sanitization and the rest of the pipeline. It fails closed: any backend
// error, timeout, or malformed verdict blocks the request.
type JailbreakDetector struct {
	backend ai.Backend
	prompt  string
}

// NewJailbreakDetector creates the classifier stage
func NewJailbreakDetector(backend ai.Backend, prompts *promptSet) *JailbreakDetector {
	return &JailbreakDetector{
		backend: backend,
		prompt:  prompts.load("jailbreak_classifier.md", defaultJailbreakPrompt),
	}
}

type jailbreakVerdict struct {
	Classification string  `json:"classification"`
	ReasonCode     string  `json:"reason_code"`
	Confidence     float64 `json:"confidence"`
}

// Detect classifies the sanitized message, with the last user turns as
// context for multi-turn attacks
func (d *JailbreakDetector) Detect(ctx context.Context, message string, history []conversation.Turn, ipHash string) JailbreakResult {
	user := formatJailbreakInput(message, history)

	var verdict jailbreakVerdict
	call, err := d.backend.ChatJSON(ctx, ai.TierClassifier, d.prompt, user, &verdict)
	if err != nil {
		log.Error().Err(err).Msg("jailbreak classifier failed, failing closed")
		return JailbreakResult{Status: JailbreakError, Reason: "classifier_error", Call: call}
	}

	confidence := clamp01(verdict.Confidence)
	reason := strings.ToLower(verdict.ReasonCode)
	if !jailbreakReasons[reason] {
		reason = "unknown"
	}

	switch strings.ToUpper(verdict.Classification) {
	case "SAFE":
		if confidence < jailbreakSafeFloor {
			// a hesitant SAFE is not safe
			log.Warn().Float64("confidence", confidence).Msg("low-confidence SAFE verdict, blocking")
			return JailbreakResult{Status: JailbreakBlocked, Reason: "low_confidence", Confidence: confidence, Call: call}
		}
		return JailbreakResult{Status: JailbreakSafe, Passed: true, Reason: "none", Confidence: confidence, Call: call}
	case "BLOCKED":
		if confidence >= jailbreakBlockThreshold {
			log.Warn().
				Str("reason", reason).
				Float64("confidence", confidence).
				Str("ip_hash", ipHash).
				Msg("jailbreak detected")
			return JailbreakResult{Status: JailbreakBlocked, Reason: reason, Confidence: confidence, Call: call}
		}
		// a hesitant BLOCKED passes, the output safety stage still runs
		return JailbreakResult{Status: JailbreakSafe, Passed: true, Reason: reason, Confidence: confidence, Call: call}
	default:
		return JailbreakResult{Status: JailbreakBlocked, Reason: "unknown", Confidence: confidence, Call: call}
	}
}

func formatJailbreakInput(message string, history []conversation.Turn) string {
	var b strings.Builder

	userTurns := lastUserTurns(history, jailbreakHistoryTurns)
	if len(userTurns) > 0 {
		b.WriteString("PREVIOUS USER MESSAGES:\n")
		for i, t := range userTurns {
			content := t.Content
			if len(content) > 200 {
				content = content[:200]
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, content)
		}
		b.WriteString("\n")
	}

	b.WriteString("CURRENT MESSAGE TO CLASSIFY:\n```\n")
	b.WriteString(message)
	b.WriteString("\n```")
	return b.String()
}

func lastUserTurns(history []conversation.Turn, n int) []conversation.Turn {
	var users []conversation.Turn
	for _, t := range history {
		if t.Role == conversation.RoleUser {
			users = append(users, t)
		}
	}
	if len(users) > n {
		users = users[len(users)-n:]
	}
	return users
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
