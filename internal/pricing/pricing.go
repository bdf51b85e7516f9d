// Package pricing maintains the load-derived surge state and serves price
// quotes from an immutable snapshot.
package pricing

import (
	"fmt"
	"sync/atomic"
	"time"
)

// SurgeState is the process-wide pricing input. It is replaced wholesale by
// the sampler and read by everyone else through an atomic pointer; a reader
// never observes a partially updated record.
type SurgeState struct {
	CPUPercent    float64
	MemoryPercent float64
	ActiveUsers   int
	Multiplier    float64
	Active        bool
	ActiveSince   time.Time
	SampledAt     time.Time
}

// Quote is the price snapshot captured for one request. It is immutable:
// the quote stored on a job at admission is never revised by later surge
// changes.
type Quote struct {
	Tier        string  `json:"tier"`
	Price       float64 `json:"price"`
	Multiplier  float64 `json:"multiplier"`
	SurgeActive bool    `json:"surge_active"`
}

// Config tunes the engine and its sampler.
type Config struct {
	// BasePrices maps tier name to the un-surged price.
	BasePrices map[string]float64
	// SurgeFactor multiplies base prices while surge is active (> 1.0).
	SurgeFactor float64
	// CPUWatermark and MemoryWatermark are breach thresholds in percent.
	CPUWatermark    float64
	MemoryWatermark float64
	// UserWatermark is the active-user breach threshold.
	UserWatermark int
	// Consecutive is how many breaching (or clear) samples in a row are
	// required to flip surge on (or off). Guards against single-sample spikes.
	Consecutive int
	// Interval is the sampling period.
	Interval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SurgeFactor <= 1.0 {
		c.SurgeFactor = 1.2
	}
	if c.CPUWatermark <= 0 {
		c.CPUWatermark = 80
	}
	if c.MemoryWatermark <= 0 {
		c.MemoryWatermark = 80
	}
	if c.UserWatermark <= 0 {
		c.UserWatermark = 1000
	}
	if c.Consecutive <= 0 {
		c.Consecutive = 3
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if len(c.BasePrices) == 0 {
		c.BasePrices = map[string]float64{"free": 0.99}
	}
}

// Engine answers price quotes. Reads are lock-free; only the sampler writes.
type Engine struct {
	cfg   Config
	state atomic.Pointer[SurgeState]

	breaching int
	clear     int
}

// NewEngine creates an engine with surge inactive.
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	e := &Engine{cfg: cfg}
	e.state.Store(&SurgeState{Multiplier: 1.0, SampledAt: time.Now()})
	return e
}

// Current returns the quote for a tier from the latest snapshot.
func (e *Engine) Current(tier string) (Quote, error) {
	base, ok := e.cfg.BasePrices[tier]
	if !ok {
		return Quote{}, fmt.Errorf("unknown pricing tier %q", tier)
	}
	state := e.state.Load()
	return Quote{
		Tier:        tier,
		Price:       roundCents(base * state.Multiplier),
		Multiplier:  state.Multiplier,
		SurgeActive: state.Active,
	}, nil
}

// Tiers lists the configured tier names.
func (e *Engine) Tiers() []string {
	names := make([]string, 0, len(e.cfg.BasePrices))
	for name := range e.cfg.BasePrices {
		names = append(names, name)
	}
	return names
}

// State returns the latest surge snapshot.
func (e *Engine) State() SurgeState {
	return *e.state.Load()
}

// observe folds one load sample into the hysteresis counters and publishes a
// new snapshot. Called only from the sampler goroutine.
func (e *Engine) observe(sample LoadSample, at time.Time) SurgeState {
	prev := e.state.Load()
	breached := sample.CPUPercent > e.cfg.CPUWatermark ||
		sample.MemoryPercent > e.cfg.MemoryWatermark ||
		sample.ActiveUsers > e.cfg.UserWatermark

	if breached {
		e.breaching++
		e.clear = 0
	} else {
		e.clear++
		e.breaching = 0
	}

	active := prev.Active
	activeSince := prev.ActiveSince
	if !active && e.breaching >= e.cfg.Consecutive {
		active = true
		activeSince = at
	}
	if active && e.clear >= e.cfg.Consecutive {
		active = false
		activeSince = time.Time{}
	}

	multiplier := 1.0
	if active {
		multiplier = e.cfg.SurgeFactor
	}
	next := &SurgeState{
		CPUPercent:    sample.CPUPercent,
		MemoryPercent: sample.MemoryPercent,
		ActiveUsers:   sample.ActiveUsers,
		Multiplier:    multiplier,
		Active:        active,
		ActiveSince:   activeSince,
		SampledAt:     at,
	}
	e.state.Store(next)
	return *next
}

// roundCents keeps published prices at cent precision.
func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
