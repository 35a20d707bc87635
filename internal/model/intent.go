package model

// Topic is the closed set of subjects the intent parser may emit
type Topic string

const (
	TopicWorkExperience Topic = "work_experience"
	TopicSkills         Topic = "skills"
	TopicProjects       Topic = "projects"
	TopicEducation      Topic = "education"
	TopicAchievements   Topic = "achievements"
	TopicHobbies        Topic = "hobbies"
	TopicPhilosophy     Topic = "philosophy"
	TopicContact        Topic = "contact"
	TopicChatSystem     Topic = "chat_system"
	TopicGeneral        Topic = "general"
)

var validTopics = map[Topic]bool{
	TopicWorkExperience: true,
	TopicSkills:         true,
	TopicProjects:       true,
	TopicEducation:      true,
	TopicAchievements:   true,
	TopicHobbies:        true,
	TopicPhilosophy:     true,
	TopicContact:        true,
	TopicChatSystem:     true,
	TopicGeneral:        true,
}

// ParseTopic clamps arbitrary model output to the topic enum
func ParseTopic(s string) Topic {
	if validTopics[Topic(s)] {
		return Topic(s)
	}
	return TopicGeneral
}

// QuestionType classifies the shape of the question
type QuestionType string

const (
	QuestionFactual       QuestionType = "factual"
	QuestionExperience    QuestionType = "experience"
	QuestionOpinion       QuestionType = "opinion"
	QuestionComparison    QuestionType = "comparison"
	QuestionProcedural    QuestionType = "procedural"
	QuestionClarification QuestionType = "clarification"
	QuestionGreeting      QuestionType = "greeting"
	QuestionAmbiguous     QuestionType = "ambiguous"
)

var validQuestionTypes = map[QuestionType]bool{
	QuestionFactual:       true,
	QuestionExperience:    true,
	QuestionOpinion:       true,
	QuestionComparison:    true,
	QuestionProcedural:    true,
	QuestionClarification: true,
	QuestionGreeting:      true,
	QuestionAmbiguous:     true,
}

// ParseQuestionType clamps arbitrary model output to the question-type enum
func ParseQuestionType(s string) QuestionType {
	if validQuestionTypes[QuestionType(s)] {
		return QuestionType(s)
	}
	return QuestionAmbiguous
}

// Tone is the emotional tone of the message
type Tone string

const (
	ToneNeutral      Tone = "neutral"
	ToneCurious      Tone = "curious"
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneSkeptical    Tone = "skeptical"
	ToneEnthusiastic Tone = "enthusiastic"
)

var validTones = map[Tone]bool{
	ToneNeutral:      true,
	ToneCurious:      true,
	ToneProfessional: true,
	ToneCasual:       true,
	ToneSkeptical:    true,
	ToneEnthusiastic: true,
}

// ParseTone clamps arbitrary model output to the tone enum
func ParseTone(s string) Tone {
	if validTones[Tone(s)] {
		return Tone(s)
	}
	return ToneNeutral
}

// Intent is the structured record produced by the intent parser
type Intent struct {
	Topic        Topic        `json:"topic"`
	QuestionType QuestionType `json:"question_type"`
	Entities     []string     `json:"entities"`
	Tone         Tone         `json:"emotional_tone"`
	Confidence   float64      `json:"confidence"`
}

// DefaultIntent is used when the parser fails; routing sends it out of scope
func DefaultIntent() Intent {
	return Intent{
		Topic:        TopicGeneral,
		QuestionType: QuestionAmbiguous,
		Tone:         ToneNeutral,
		Confidence:   0,
	}
}
