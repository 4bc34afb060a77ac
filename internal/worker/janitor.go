package worker

import (
	"time"

	"github.com/rs/zerolog"

	"chat-service/internal/metrics"
	"chat-service/internal/services"
)

// Janitor periodically drops chat topics that have no subscribers and have
// been idle for longer than ttl.
type Janitor struct {
	topics   *services.Topics
	ttl      time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
	stopChan chan struct{}
	now      func() time.Time
}

func NewJanitor(topics *services.Topics, ttl, interval time.Duration, m *metrics.Metrics, log zerolog.Logger) *Janitor {
	return &Janitor{
		topics:   topics,
		ttl:      ttl,
		interval: interval,
		metrics:  m,
		log:      log.With().Str("component", "janitor").Logger(),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the sweep loop. A zero ttl or interval disables it.
func (j *Janitor) Start() {
	if j.ttl <= 0 || j.interval <= 0 {
		j.log.Info().Msg("topic eviction disabled")
		return
	}
	go j.loop()
	j.log.Info().Dur("ttl", j.ttl).Dur("interval", j.interval).Msg("janitor started")
}

func (j *Janitor) Stop() {
	select {
	case <-j.stopChan:
		return
	default:
		close(j.stopChan)
	}
}

func (j *Janitor) loop() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() int {
	removed := j.topics.EvictIdle(j.ttl, j.now())
	if removed > 0 {
		j.metrics.RecordEvicted(removed)
		j.log.Debug().Int("removed", removed).Int("remaining", j.topics.Len()).Msg("evicted idle topics")
	}
	return removed
}
