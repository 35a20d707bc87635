package pipeline

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"talkingrock/internal/model"
)

func TestRouter_Route(t *testing.T) {
	Convey("Route maps intents onto the closed domain set", t, func() {
		r := NewRouter()

		Convey("professional topics", func() {
			for _, topic := range []model.Topic{
				model.TopicWorkExperience, model.TopicSkills,
				model.TopicEducation, model.TopicAchievements,
			} {
				result := r.Route(model.Intent{Topic: topic, QuestionType: model.QuestionFactual, Confidence: 0.9})
				So(result.Domain, ShouldEqual, model.DomainProfessional)
				So(result.Passed, ShouldBeTrue)
			}
		})

		Convey("single-domain topics", func() {
			cases := map[model.Topic]model.Domain{
				model.TopicProjects:   model.DomainProjects,
				model.TopicHobbies:    model.DomainHobbies,
				model.TopicPhilosophy: model.DomainPhilosophy,
				model.TopicContact:    model.DomainContact,
				model.TopicChatSystem: model.DomainMeta,
			}
			for topic, want := range cases {
				result := r.Route(model.Intent{Topic: topic, QuestionType: model.QuestionFactual, Confidence: 0.8})
				So(result.Domain, ShouldEqual, want)
			}
		})

		Convey("general routes out of scope", func() {
			result := r.Route(model.Intent{Topic: model.TopicGeneral, QuestionType: model.QuestionFactual, Confidence: 0.9})
			So(result.Domain, ShouldEqual, model.DomainOutOfScope)
			So(result.Passed, ShouldBeFalse)
		})

		Convey("greetings go to META even with general topic", func() {
			result := r.Route(model.Intent{Topic: model.TopicGeneral, QuestionType: model.QuestionGreeting, Confidence: 0.2})
			So(result.Domain, ShouldEqual, model.DomainMeta)
			So(result.Passed, ShouldBeTrue)
		})

		Convey("low confidence routes out of scope", func() {
			result := r.Route(model.Intent{Topic: model.TopicSkills, QuestionType: model.QuestionFactual, Confidence: 0.1})
			So(result.Domain, ShouldEqual, model.DomainOutOfScope)
		})

		Convey("every output is a member of the domain enum", func() {
			topics := []string{"work_experience", "skills", "projects", "education", "achievements",
				"hobbies", "philosophy", "contact", "chat_system", "general", "weather", "", "banana"}
			for _, raw := range topics {
				result := r.Route(model.Intent{
					Topic:        model.ParseTopic(raw),
					QuestionType: model.QuestionFactual,
					Confidence:   0.9,
				})
				So(result.Domain.Valid(), ShouldBeTrue)
			}
		})

		Convey("unknown topics clamp to general and route out of scope", func() {
			result := r.Route(model.Intent{Topic: model.ParseTopic("weather"), QuestionType: model.QuestionFactual, Confidence: 0.95})
			So(result.Domain, ShouldEqual, model.DomainOutOfScope)
		})
	})
}
