package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/ai"
)

// Revision verdicts
const (
	ReviseSkipped = "skipped"
	RevisePassed  = "passed"
	ReviseRevised = "revised"
	ReviseError   = "error"
)

// ReviseResult is the outcome of the revision pass
type ReviseResult struct {
	Status     string
	Response   string
	WasRevised bool
	Issues     []string
	Call       *ai.ChatResult
}

// Drafts shorter than this skip revision entirely
const minLengthForRevision = 200

// A revised response shorter than this is discarded as implausible
const minRevisedLength = 50

// Reviser is the advisory self-critique pass. It can only improve the
// draft: malformed output, errors, and implausible rewrites all leave the
// draft unchanged.
type Reviser struct {
	backend ai.Backend
	prompt  string
}

// NewReviser creates the revision stage
func NewReviser(backend ai.Backend, prompts *promptSet) *Reviser {
	return &Reviser{
		backend: backend,
		prompt:  prompts.load("revision_checker.md", defaultRevisionPrompt),
	}
}

type revisionVerdict struct {
	NeedsRevision   bool     `json:"needs_revision"`
	Issues          []string `json:"issues"`
	RevisedResponse string   `json:"revised_response"`
}

// Revise reviews the draft against its context and question
func (r *Reviser) Revise(ctx context.Context, draft, contextBlob, question string) ReviseResult {
	if len(draft) < minLengthForRevision {
		return ReviseResult{Status: ReviseSkipped, Response: draft}
	}

	request := fmt.Sprintf(`ORIGINAL QUESTION:
%s

CONTEXT PROVIDED:
%s

RESPONSE TO REVIEW:
%s

Review the response and check for issues. Output JSON only.`,
		question, fenced(truncate(contextBlob, 2000)), fenced(draft))

	var verdict revisionVerdict
	call, err := r.backend.ChatJSON(ctx, ai.TierGenerator, r.prompt, request, &verdict)
	if err != nil {
		log.Warn().Err(err).Msg("revision check failed, keeping draft")
		return ReviseResult{Status: ReviseError, Response: draft, Call: call}
	}

	if !verdict.NeedsRevision {
		return ReviseResult{Status: RevisePassed, Response: draft, Call: call}
	}

	if len(verdict.RevisedResponse) < minRevisedLength {
		log.Debug().Msg("revision produced implausible rewrite, keeping draft")
		return ReviseResult{Status: RevisePassed, Response: draft, Call: call}
	}

	log.Info().Strs("issues", verdict.Issues).Msg("response revised")
	return ReviseResult{
		Status:     ReviseRevised,
		Response:   verdict.RevisedResponse,
		WasRevised: true,
		Issues:     verdict.Issues,
		Call:       call,
	}
}

func fenced(s string) string {
	return "```\n" + s + "\n```"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
