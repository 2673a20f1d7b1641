package ops

import (
	"math/rand/v2"
	"sync"
)

// Sampler keeps a configurable fraction of operational events per action.
// High-volume actions can be sampled down without touching the rest.
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByAction map[string]float64
	draw         func() float64
}

// NewSampler creates a sampler that keeps defaultRate of events.
// Rates are clamped to [0, 1].
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate:  clamp(defaultRate),
		rateByAction: make(map[string]float64),
		draw:         rand.Float64, //nolint:gosec // sampling doesn't need crypto rand
	}
}

// Keep reports whether an event for action should be persisted.
func (s *Sampler) Keep(action string) bool {
	rate := s.rateFor(action)
	switch rate {
	case 0:
		return false
	case 1:
		return true
	}
	return s.draw() < rate
}

// SetRate overrides the rate for a single action.
func (s *Sampler) SetRate(action string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[action] = clamp(rate)
}

func (s *Sampler) rateFor(action string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rateByAction[action]; ok {
		return rate
	}
	return s.defaultRate
}

func clamp(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
