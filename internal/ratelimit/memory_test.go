package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func newTestLimiter(limits Limits) (*MemoryLimiter, *time.Time) {
	l := NewMemoryLimiter(limits)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	l.SetClock(func() time.Time { return *clock })
	return l, clock
}

func TestMemoryLimiter_PerIPPerMinute(t *testing.T) {
	Convey("at most per_ip_per_minute requests are admitted in 60s", t, func() {
		l, clock := newTestLimiter(Limits{PerIPPerMinute: 10, PerIPPerHour: 100, GlobalPerMinute: 1000})
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			result, err := l.Allow(ctx, "hash-a")
			So(err, ShouldBeNil)
			So(result.Allowed, ShouldBeTrue)
			*clock = clock.Add(time.Second)
		}

		result, err := l.Allow(ctx, "hash-a")
		So(err, ShouldBeNil)
		So(result.Allowed, ShouldBeFalse)
		So(result.Status, ShouldEqual, StatusBlockedIPMinute)
		So(result.RetryAfter, ShouldBeGreaterThan, 0)

		Convey("other ips are unaffected", func() {
			other, err := l.Allow(ctx, "hash-b")
			So(err, ShouldBeNil)
			So(other.Allowed, ShouldBeTrue)
		})

		Convey("the window slides", func() {
			*clock = clock.Add(61 * time.Second)
			later, err := l.Allow(ctx, "hash-a")
			So(err, ShouldBeNil)
			So(later.Allowed, ShouldBeTrue)
		})
	})
}

func TestMemoryLimiter_PerIPPerHour(t *testing.T) {
	Convey("the hourly window caps slow drips", t, func() {
		l, clock := newTestLimiter(Limits{PerIPPerMinute: 10, PerIPPerHour: 20, GlobalPerMinute: 1000})
		ctx := context.Background()

		admitted := 0
		for i := 0; i < 30; i++ {
			result, err := l.Allow(ctx, "hash-a")
			So(err, ShouldBeNil)
			if result.Allowed {
				admitted++
			}
			*clock = clock.Add(30 * time.Second) // stays under the minute limit
		}

		So(admitted, ShouldEqual, 20)
	})
}

func TestMemoryLimiter_Global(t *testing.T) {
	Convey("the global window caps aggregate traffic", t, func() {
		l, clock := newTestLimiter(Limits{PerIPPerMinute: 100, PerIPPerHour: 1000, GlobalPerMinute: 5})
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			result, err := l.Allow(ctx, fmt.Sprintf("hash-%d", i))
			So(err, ShouldBeNil)
			So(result.Allowed, ShouldBeTrue)
		}

		result, err := l.Allow(ctx, "hash-new")
		So(err, ShouldBeNil)
		So(result.Allowed, ShouldBeFalse)
		So(result.Status, ShouldEqual, StatusBlockedGlobal)

		*clock = clock.Add(2 * time.Minute)
		later, err := l.Allow(ctx, "hash-new")
		So(err, ShouldBeNil)
		So(later.Allowed, ShouldBeTrue)
	})
}

func TestMemoryLimiter_BlockedRequestsDoNotCount(t *testing.T) {
	Convey("rejected requests do not consume budget", t, func() {
		l, clock := newTestLimiter(Limits{PerIPPerMinute: 2, PerIPPerHour: 100, GlobalPerMinute: 1000})
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			result, _ := l.Allow(ctx, "hash-a")
			So(result.Allowed, ShouldBeTrue)
		}
		for i := 0; i < 5; i++ {
			result, _ := l.Allow(ctx, "hash-a")
			So(result.Allowed, ShouldBeFalse)
		}

		// after the window slides, the full budget is back
		*clock = clock.Add(61 * time.Second)
		first, _ := l.Allow(ctx, "hash-a")
		second, _ := l.Allow(ctx, "hash-a")
		third, _ := l.Allow(ctx, "hash-a")
		So(first.Allowed, ShouldBeTrue)
		So(second.Allowed, ShouldBeTrue)
		So(third.Allowed, ShouldBeFalse)
	})
}
