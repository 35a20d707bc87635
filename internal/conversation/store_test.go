package conversation

import (
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"talkingrock/internal/pkg/tokens"
)

func newTestStore(cfg Config) (*Store, *time.Time) {
	s := NewStore(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	s.SetClock(func() time.Time { return *clock })
	return s, clock
}

func TestStore_GetOrCreate(t *testing.T) {
	Convey("GetOrCreate", t, func() {
		s, clock := newTestStore(Config{MaxTurns: 10, TTL: 30 * time.Minute, Capacity: 100})

		Convey("empty id creates a new conversation", func() {
			snap := s.GetOrCreate("")
			So(snap.IsNew, ShouldBeTrue)
			So(snap.ID, ShouldNotBeEmpty)
			So(snap.Turns, ShouldBeEmpty)
		})

		Convey("a known id returns the same conversation", func() {
			first := s.GetOrCreate("")
			So(s.Append(first.ID, Turn{Content: "hi"}, Turn{Content: "hello"}), ShouldBeNil)

			again := s.GetOrCreate(first.ID)
			So(again.IsNew, ShouldBeFalse)
			So(again.ID, ShouldEqual, first.ID)
			So(len(again.Turns), ShouldEqual, 2)
		})

		Convey("an unknown id creates a fresh conversation", func() {
			snap := s.GetOrCreate("not-a-real-id")
			So(snap.IsNew, ShouldBeTrue)
			So(snap.ID, ShouldNotEqual, "not-a-real-id")
		})

		Convey("an expired conversation is replaced", func() {
			first := s.GetOrCreate("")
			So(s.Append(first.ID, Turn{Content: "hi"}, Turn{Content: "hello"}), ShouldBeNil)

			*clock = clock.Add(31 * time.Minute)
			again := s.GetOrCreate(first.ID)
			So(again.IsNew, ShouldBeTrue)
			So(again.ID, ShouldNotEqual, first.ID)
			So(again.Turns, ShouldBeEmpty)
		})
	})
}

func TestStore_Append(t *testing.T) {
	Convey("Append", t, func() {
		s, clock := newTestStore(Config{MaxTurns: 3, TTL: 30 * time.Minute, Capacity: 100})
		snap := s.GetOrCreate("")

		Convey("both turns land together", func() {
			So(s.Append(snap.ID, Turn{Content: "q"}, Turn{Content: "a"}), ShouldBeNil)
			turns := s.History(snap.ID)
			So(len(turns), ShouldEqual, 2)
			So(turns[0].Role, ShouldEqual, RoleUser)
			So(turns[1].Role, ShouldEqual, RoleAssistant)
		})

		Convey("the user-turn cap rejects whole exchanges", func() {
			for i := 0; i < 3; i++ {
				So(s.Append(snap.ID, Turn{Content: "q"}, Turn{Content: "a"}), ShouldBeNil)
			}
			err := s.Append(snap.ID, Turn{Content: "q4"}, Turn{Content: "a4"})
			So(err, ShouldEqual, ErrTurnLimit)

			turns := s.History(snap.ID)
			So(len(turns), ShouldEqual, 6) // nothing from the rejected exchange
			users := 0
			for _, turn := range turns {
				if turn.Role == RoleUser {
					users++
				}
			}
			So(users, ShouldEqual, 3)
		})

		Convey("append to an expired conversation fails", func() {
			*clock = clock.Add(31 * time.Minute)
			err := s.Append(snap.ID, Turn{Content: "q"}, Turn{Content: "a"})
			So(err, ShouldNotBeNil)
			So(s.History(snap.ID), ShouldBeNil)
		})

		Convey("alternation holds after many appends", func() {
			for i := 0; i < 3; i++ {
				So(s.Append(snap.ID, Turn{Content: "q"}, Turn{Content: "a"}), ShouldBeNil)
			}
			turns := s.History(snap.ID)
			for i, turn := range turns {
				if i%2 == 0 {
					So(turn.Role, ShouldEqual, RoleUser)
				} else {
					So(turn.Role, ShouldEqual, RoleAssistant)
				}
			}
		})
	})
}

func TestStore_SweepAndCapacity(t *testing.T) {
	Convey("expiry and capacity bounds", t, func() {
		s, clock := newTestStore(Config{MaxTurns: 10, TTL: 30 * time.Minute, Capacity: 5})

		Convey("Sweep removes expired conversations", func() {
			for i := 0; i < 3; i++ {
				s.GetOrCreate("")
			}
			So(s.Len(), ShouldEqual, 3)

			*clock = clock.Add(31 * time.Minute)
			So(s.Sweep(), ShouldEqual, 3)
			So(s.Len(), ShouldEqual, 0)
		})

		Convey("capacity evicts the least recently active", func() {
			ids := make([]string, 0, 5)
			for i := 0; i < 5; i++ {
				snap := s.GetOrCreate("")
				ids = append(ids, snap.ID)
				*clock = clock.Add(time.Second)
			}
			So(s.Len(), ShouldEqual, 5)

			// the sixth evicts the oldest
			s.GetOrCreate("")
			So(s.Len(), ShouldEqual, 5)
			evicted := s.GetOrCreate(ids[0])
			So(evicted.ID, ShouldNotEqual, ids[0])
		})
	})
}

func TestTruncateHistory(t *testing.T) {
	Convey("TruncateHistory", t, func() {
		est := tokens.NewEstimator()

		makeTurns := func(pairs int, words int) []Turn {
			var turns []Turn
			content := ""
			for i := 0; i < words; i++ {
				content += fmt.Sprintf("word%d ", i)
			}
			for i := 0; i < pairs; i++ {
				turns = append(turns,
					Turn{Role: RoleUser, Content: content},
					Turn{Role: RoleAssistant, Content: content},
				)
			}
			return turns
		}

		Convey("history under budget is untouched", func() {
			turns := makeTurns(3, 5)
			out := TruncateHistory(turns, 4000, est)
			So(len(out), ShouldEqual, 6)
		})

		Convey("oldest pairs are dropped first", func() {
			turns := makeTurns(10, 50)
			budget := est.Count(turns[0].Content) * 4 // room for ~2 pairs
			out := TruncateHistory(turns, budget, est)

			So(len(out), ShouldBeLessThan, len(turns))
			So(out[len(out)-1].Content, ShouldEqual, turns[len(turns)-1].Content)

			total := 0
			for _, turn := range out {
				total += est.Count(turn.Content)
			}
			So(total, ShouldBeLessThanOrEqualTo, budget)
		})

		Convey("alternation survives truncation", func() {
			turns := makeTurns(10, 50)
			out := TruncateHistory(turns, est.Count(turns[0].Content)*3, est)
			So(len(out), ShouldBeGreaterThan, 0)
			So(out[0].Role, ShouldEqual, RoleUser)
			for i := 1; i < len(out); i++ {
				So(out[i].Role, ShouldNotEqual, out[i-1].Role)
			}
		})

		Convey("empty history stays empty", func() {
			So(TruncateHistory(nil, 4000, est), ShouldBeEmpty)
		})
	})
}
