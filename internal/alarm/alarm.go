// Package alarm provides throttled, aggregated alarm emission keyed by
// (kind, project, logstore, region): an event that would otherwise be
// a logged alarm flood at scale is instead rate-limited per key.
package alarm

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Key identifies an alarm class for throttling purposes.
type Key struct {
	Kind     string
	Project  string
	Logstore string
	Region   string
}

// Limiter aggregates and throttles alarms per Key. The zero value is not
// usable; construct with New.
type Limiter struct {
	mu       sync.Mutex
	limiters map[Key]*rate.Limiter
	every    time.Duration
}

// New returns a Limiter that allows at most one alarm per Key per
// |every| duration, bursting to 1.
func New(every time.Duration) *Limiter {
	return &Limiter{
		limiters: make(map[Key]*rate.Limiter),
		every:    every,
	}
}

// Raise logs the alarm at Warn level if the (kind, project, logstore,
// region) key has not fired within the throttle window, and is a no-op
// otherwise.
func (l *Limiter) Raise(key Key, fields log.Fields, msg string) {
	if !l.allow(key) {
		return
	}
	log.WithFields(fields).WithField("alarm_kind", key.Kind).Warn(msg)
}

func (l *Limiter) allow(key Key) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), 1)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}

// DefaultWindow is the default alarm-aggregation window per spec (10
// minutes per key).
const DefaultWindow = 10 * time.Minute
