package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/ai"
	"talkingrock/internal/model"
)

// IntentResult is the outcome of the combined intent-parse + route call
type IntentResult struct {
	Intent model.Intent
	Call   *ai.ChatResult
}

// IntentParser extracts a structured intent with one small-model call.
// The model also proposes a domain, but routing stays rule-based: the
// proposal is logged and the routing table decides.
type IntentParser struct {
	backend ai.Backend
	prompt  string
}

// NewIntentParser creates the intent stage
func NewIntentParser(backend ai.Backend, prompts *promptSet) *IntentParser {
	return &IntentParser{
		backend: backend,
		prompt:  prompts.load("intent_router.md", defaultIntentPrompt),
	}
}

type intentVerdict struct {
	Topic          string   `json:"topic"`
	QuestionType   string   `json:"question_type"`
	Entities       []string `json:"entities"`
	EmotionalTone  string   `json:"emotional_tone"`
	Confidence     float64  `json:"confidence"`
	ProposedDomain string   `json:"proposed_domain"`
}

// Parse extracts the intent. Parser failures never terminate the request:
// the default intent routes out of scope downstream.
func (p *IntentParser) Parse(ctx context.Context, message string) IntentResult {
	var verdict intentVerdict
	call, err := p.backend.ChatJSON(ctx, ai.TierRouter, p.prompt,
		"Parse the intent of this message:\n\n"+message, &verdict)
	if err != nil {
		log.Warn().Err(err).Msg("intent parsing failed, using default intent")
		return IntentResult{Intent: model.DefaultIntent(), Call: call}
	}

	entities := make([]string, 0, len(verdict.Entities))
	for _, e := range verdict.Entities {
		if e != "" {
			entities = append(entities, e)
		}
	}

	intent := model.Intent{
		Topic:        model.ParseTopic(verdict.Topic),
		QuestionType: model.ParseQuestionType(verdict.QuestionType),
		Entities:     entities,
		Tone:         model.ParseTone(verdict.EmotionalTone),
		Confidence:   clamp01(verdict.Confidence),
	}

	log.Debug().
		Str("topic", string(intent.Topic)).
		Str("question_type", string(intent.QuestionType)).
		Str("proposed_domain", verdict.ProposedDomain).
		Float64("confidence", intent.Confidence).
		Msg("intent parsed")

	return IntentResult{Intent: intent, Call: call}
}
