package pricing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoadSample is one reading of the signals that drive surge pricing.
type LoadSample struct {
	CPUPercent    float64
	MemoryPercent float64
	ActiveUsers   int
}

// LoadProbe produces load samples. The production probe reads host cpu and
// memory; tests script their own sequences.
type LoadProbe interface {
	Sample(ctx context.Context) (LoadSample, error)
}

// Sampler periodically feeds probe readings into the engine. It is the
// engine's single writer.
type Sampler struct {
	engine *Engine
	probe  LoadProbe
	log    *zap.Logger
}

// NewSampler wires a probe to an engine.
func NewSampler(engine *Engine, probe LoadProbe, log *zap.Logger) *Sampler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{engine: engine, probe: probe, log: log}
}

// Run samples on the engine's interval until ctx is canceled. Probe errors
// are logged and skipped; they never stop the loop or flip surge state.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.engine.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce takes a single reading and folds it into the surge state.
func (s *Sampler) SampleOnce(ctx context.Context) {
	sample, err := s.probe.Sample(ctx)
	if err != nil {
		s.log.Warn("load sample failed", zap.Error(err))
		return
	}
	state := s.engine.observe(sample, time.Now())
	if state.Active && state.ActiveSince.Equal(state.SampledAt) {
		s.log.Info("surge pricing activated",
			zap.Float64("cpu_percent", state.CPUPercent),
			zap.Float64("memory_percent", state.MemoryPercent),
			zap.Int("active_users", state.ActiveUsers),
			zap.Float64("multiplier", state.Multiplier))
	}
}
