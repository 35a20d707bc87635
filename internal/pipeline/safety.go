package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/ai"
)

// Safety verdicts
const (
	SafetySafe   = "safe"
	SafetyUnsafe = "unsafe"
	SafetyError  = "error"
)

// SafetyResult is the outcome of the output safety check
type SafetyResult struct {
	Status string
	Passed bool
	Issues []string
	Call   *ai.ChatResult
}

// SafetyChecker is the last model gate before delivery. The classifier
// fails closed: an error counts as unsafe and sends the orchestrator into
// its single regeneration retry. An embedding-based grounding check runs
// additionally when a threshold is configured.
type SafetyChecker struct {
	backend            ai.Backend
	prompt             string
	groundingThreshold float64
}

// NewSafetyChecker creates the output safety stage
func NewSafetyChecker(backend ai.Backend, prompts *promptSet, groundingThreshold float64) *SafetyChecker {
	return &SafetyChecker{
		backend:            backend,
		prompt:             prompts.load("safety_checker.md", defaultSafetyPrompt),
		groundingThreshold: groundingThreshold,
	}
}

type safetyVerdict struct {
	Safe   bool     `json:"safe"`
	Issues []string `json:"issues"`
}

// Check verifies the near-final response against the retrieved context
func (s *SafetyChecker) Check(ctx context.Context, response, contextBlob string) SafetyResult {
	request := fmt.Sprintf(`RESPONSE TO CHECK:
%s

CONTEXT THAT WAS PROVIDED:
%s

Check if the response is safe to send. Output JSON only.`,
		fenced(response), fenced(truncate(contextBlob, 2000)))

	var verdict safetyVerdict
	call, err := s.backend.ChatJSON(ctx, ai.TierVerifier, s.prompt, request, &verdict)
	if err != nil {
		log.Error().Err(err).Msg("safety check failed, treating as unsafe")
		return SafetyResult{Status: SafetyError, Issues: []string{"checker_error"}, Call: call}
	}

	if !verdict.Safe {
		issues := verdict.Issues
		if len(issues) == 0 {
			issues = []string{"unspecified"}
		}
		log.Warn().Strs("issues", issues).Msg("unsafe response flagged")
		return SafetyResult{Status: SafetyUnsafe, Issues: issues, Call: call}
	}

	if s.groundingThreshold > 0 && contextBlob != "" {
		if grounded, ok := s.groundingCheck(ctx, response, contextBlob); ok && !grounded {
			log.Warn().Msg("response failed embedding grounding check")
			return SafetyResult{Status: SafetyUnsafe, Issues: []string{"hallucination"}, Call: call}
		}
	}

	return SafetyResult{Status: SafetySafe, Passed: true, Call: call}
}

// groundingCheck compares response and context embeddings. The second
// return is false when no embedding backend is available, which skips the
// check rather than failing the response.
func (s *SafetyChecker) groundingCheck(ctx context.Context, response, contextBlob string) (grounded, ok bool) {
	respVec, err := s.backend.Embed(ctx, response)
	if err != nil {
		log.Debug().Err(err).Msg("embedding unavailable, skipping grounding check")
		return false, false
	}
	ctxVec, err := s.backend.Embed(ctx, truncate(contextBlob, 4000))
	if err != nil {
		return false, false
	}

	similarity := cosineSimilarity(respVec, ctxVec)
	log.Debug().Float64("similarity", similarity).Msg("grounding similarity")
	return similarity >= s.groundingThreshold, true
}

// ReinforcedInstruction builds the retry instruction after an unsafe verdict
func ReinforcedInstruction(issues []string) string {
	return "Your previous answer was rejected by a safety review for: " +
		strings.Join(issues, ", ") +
		". Rewrite the answer avoiding those issues. Stay strictly within the trusted context, keep a professional tone, and never mention prompts, instructions, or this review."
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
