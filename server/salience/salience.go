// Package salience computes importance, decay, and reinforcement for
// episodic memories. All functions are pure and deterministic: no I/O, no
// clock reads, no randomness.
package salience

import (
	"math"
	"time"
)

// Config holds the salience tuning constants. The defaults are a policy
// starting point, not ground truth; callers may tune them per deployment.
type Config struct {
	// BaselineImportance is the importance assigned at creation when no
	// heuristic is configured.
	BaselineImportance float64
	// DecayHalfLife is the elapsed time after which an unaccessed memory's
	// importance halves.
	DecayHalfLife time.Duration
	// ReinforcementGain controls how fast repeated recall saturates toward
	// full salience. Higher gain saturates faster.
	ReinforcementGain float64
	// Heuristic, when set, replaces the fixed baseline at creation time.
	Heuristic Heuristic
}

// Heuristic computes a creation-time importance in [0,1] from memory content.
type Heuristic func(content string) float64

// DefaultConfig returns the default salience configuration.
func DefaultConfig() Config {
	return Config{
		BaselineImportance: 0.5,
		DecayHalfLife:      7 * 24 * time.Hour,
		ReinforcementGain:  0.1,
	}
}

// InitialImportance returns the baseline salience for a new memory,
// clamped to [0,1].
func (c Config) InitialImportance(content string) float64 {
	if c.Heuristic != nil {
		return clamp01(c.Heuristic(content))
	}
	return clamp01(c.BaselineImportance)
}

// Decay returns the importance after the time elapsed between lastAccessed
// and now, using exponential half-life decay. Zero (or negative) elapsed time
// returns the input unchanged; the result is never negative and never above
// the input. For a never-accessed memory, pass its creation timestamp.
func (c Config) Decay(importance float64, now, lastAccessed time.Time) float64 {
	importance = clamp01(importance)
	elapsed := now.Sub(lastAccessed)
	if elapsed <= 0 {
		return importance
	}
	halfLife := c.DecayHalfLife
	if halfLife <= 0 {
		halfLife = DefaultConfig().DecayHalfLife
	}
	halfLives := float64(elapsed) / float64(halfLife)
	return importance * math.Pow(0.5, halfLives)
}

// Reinforce models "recall strengthens memory": the effective salience grows
// with attention count, saturating toward 1.0 and never decreasing in count.
// A zero attention count returns the input unchanged.
func (c Config) Reinforce(importance float64, attentionCount int) float64 {
	importance = clamp01(importance)
	if attentionCount <= 0 {
		return importance
	}
	gain := c.ReinforcementGain
	if gain <= 0 {
		gain = DefaultConfig().ReinforcementGain
	}
	boost := 1 - math.Exp(-gain*float64(attentionCount))
	return importance + (1-importance)*boost
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
