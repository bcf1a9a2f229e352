package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lazypower/dermagraph/internal/logger"
)

// BreakerConfig tunes the per-space circuit breakers.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig trips after half of at least five calls fail and
// probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.5,
		MinRequests:      5,
	}
}

// Breaker guards a Client with one circuit breaker per space, so a failing
// tensor backend never blocks semantic queries. While a breaker is open
// queries fail fast, which search treats like any other space failure.
type Breaker struct {
	next     Client
	breakers map[Space]*gobreaker.CircuitBreaker
}

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(space Space, from, to gobreaker.State)

func NewBreaker(next Client, cfg BreakerConfig, log *logger.Logger, onChange StateChangeFunc) *Breaker {
	log = log.With("component", "VectorIndexBreaker")
	b := &Breaker{next: next, breakers: make(map[Space]*gobreaker.CircuitBreaker, len(Spaces))}
	for _, space := range Spaces {
		space := space
		b.breakers[space] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "vectorindex-" + string(space),
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.MinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
				if onChange != nil {
					onChange(space, from, to)
				}
			},
			// the caller giving up says nothing about backend health
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}
	return b
}

func (b *Breaker) Query(ctx context.Context, space Space, vector []float64, topK int) ([]Match, error) {
	cb, ok := b.breakers[space]
	if !ok {
		return nil, fmt.Errorf("vector index breaker: invalid space %q", space)
	}
	res, err := cb.Execute(func() (interface{}, error) {
		return b.next.Query(ctx, space, vector, topK)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s index: %w", space, err)
		}
		return nil, err
	}
	matches, _ := res.([]Match)
	return matches, nil
}

// State reports the breaker state of a space.
func (b *Breaker) State(space Space) gobreaker.State {
	if cb, ok := b.breakers[space]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}
