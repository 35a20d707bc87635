package pipeline

import (
	"github.com/rs/zerolog/log"

	"talkingrock/internal/model"
)

// Routing verdicts
const (
	RouteMatched    = "routed"
	RouteOutOfScope = "out_of_scope"
)

// RouteResult is the outcome of domain routing
type RouteResult struct {
	Status     string
	Passed     bool
	Domain     model.Domain
	Confidence float64
}

// topicDomains is the routing table: intent topic to context domain
var topicDomains = map[model.Topic]model.Domain{
	model.TopicWorkExperience: model.DomainProfessional,
	model.TopicSkills:         model.DomainProfessional,
	model.TopicEducation:      model.DomainProfessional,
	model.TopicAchievements:   model.DomainProfessional,
	model.TopicProjects:       model.DomainProjects,
	model.TopicHobbies:        model.DomainHobbies,
	model.TopicPhilosophy:     model.DomainPhilosophy,
	model.TopicContact:        model.DomainContact,
	model.TopicChatSystem:     model.DomainMeta,
}

// routeConfidenceFloor sends hesitant intents out of scope
const routeConfidenceFloor = 0.3

// Router maps intents onto the closed domain set. Pure rules, no model
// call; unknown topics deterministically become OUT_OF_SCOPE.
type Router struct{}

// NewRouter creates the routing stage
func NewRouter() *Router {
	return &Router{}
}

// Route resolves the domain for an intent
func (r *Router) Route(intent model.Intent) RouteResult {
	// Greetings land in META when the topic is general or the confidence
	// is too low to route by topic
	if intent.QuestionType == model.QuestionGreeting &&
		(intent.Topic == model.TopicGeneral || intent.Confidence < routeConfidenceFloor) {
		return RouteResult{Status: RouteMatched, Passed: true, Domain: model.DomainMeta, Confidence: 1.0}
	}

	if intent.Confidence < routeConfidenceFloor {
		log.Info().
			Str("topic", string(intent.Topic)).
			Float64("confidence", intent.Confidence).
			Msg("low-confidence intent routed out of scope")
		return RouteResult{Status: RouteOutOfScope, Domain: model.DomainOutOfScope}
	}

	if domain, ok := topicDomains[intent.Topic]; ok {
		return RouteResult{Status: RouteMatched, Passed: true, Domain: domain, Confidence: intent.Confidence}
	}

	// general and anything unmapped
	log.Info().Str("topic", string(intent.Topic)).Msg("topic routed out of scope")
	return RouteResult{Status: RouteOutOfScope, Domain: model.DomainOutOfScope}
}
