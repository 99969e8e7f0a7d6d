// Package broadcast fans game events out to every connected transport.
// Publishing is best effort: a failing sink is logged and counted, and the
// game carries on.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/internal/metrics"
)

const DefaultTimeout = 2 * time.Second

// Envelope is what every sink receives.
type Envelope struct {
	Topic   string    `json:"topic"`
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

type Sink interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
}

type Gateway struct {
	mu      sync.RWMutex
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

func New(timeout time.Duration, sinks ...Sink) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		sinks:   sinks,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.With().Str("component", "broadcast").Logger(),
	}
}

// Add registers another sink. Sinks added later only see later events.
func (g *Gateway) Add(s Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinks = append(g.sinks, s)
}

// Announce publishes to every sink. The caller's cancellation does not cut
// delivery short; each sink gets its own timeout instead.
func (g *Gateway) Announce(ctx context.Context, topic, event string, payload any) {
	env := Envelope{Topic: topic, Event: event, Payload: payload, At: g.now()}

	g.mu.RLock()
	sinks := append([]Sink(nil), g.sinks...)
	g.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(base, g.timeout)
		err := s.Publish(sctx, env)
		cancel()
		if err != nil {
			metrics.BroadcastFailures.WithLabelValues(s.Name()).Inc()
			g.logger.Warn().Err(err).Str("sink", s.Name()).Str("event", event).Msg("broadcast failed")
			continue
		}
		g.logger.Debug().Str("sink", s.Name()).Str("event", event).Msg("broadcast")
	}
}
