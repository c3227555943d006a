// Package experiment implements A/B variant selection for short links.
//
// A link record may carry an experiment config in its rules blob. Selection
// supports two strategies: weighted (random draw proportional to variant
// weights) and deterministic (stable bucketing of a session fingerprint so
// one visitor always sees the same variant).
package experiment

import (
	"crypto/rand"
	"encoding/binary"
)

// Distribution names a selection strategy.
type Distribution string

const (
	DistributionWeighted      Distribution = "weighted"
	DistributionDeterministic Distribution = "deterministic"
)

// Variant is one candidate destination in an experiment.
type Variant struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
	URL    string `json:"url"`
}

// Config is the experiment configuration attached to a link record.
type Config struct {
	Enabled      bool         `json:"enabled"`
	Distribution Distribution `json:"distribution"`
	Variants     []Variant    `json:"variants"`
}

// Active reports whether the config can select a variant at all.
// Disabled, absent, or variant-less experiments select nothing.
func (c *Config) Active() bool {
	return c != nil && c.Enabled && len(c.Variants) > 0
}

// TotalWeight sums the variant weights. Negative weights are clamped to zero
// so a single bad variant cannot flip the sum negative.
func (c *Config) TotalWeight() int {
	total := 0
	for _, v := range c.Variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	return total
}

// Select picks a variant using the strategy implied by deterministic.
// Returns nil when the config is not active.
func Select(c *Config, fingerprint string, deterministic bool) *Variant {
	if !c.Active() {
		return nil
	}
	if deterministic {
		return SelectDeterministic(c, fingerprint)
	}
	return SelectWeighted(c)
}

// SelectWeighted draws a random value r in [0,1), scales it by the total
// weight, and walks the variants in declared order subtracting each weight
// until the threshold is used up. A non-positive total weight always selects
// the first variant without drawing randomness.
func SelectWeighted(c *Config) *Variant {
	if !c.Active() {
		return nil
	}
	total := c.TotalWeight()
	if total <= 0 {
		return &c.Variants[0]
	}

	threshold := randFloat() * float64(total)
	for i := range c.Variants {
		threshold -= float64(c.Variants[i].Weight)
		if threshold <= 0 {
			return &c.Variants[i]
		}
	}
	// Floating-point edge: nothing tripped, fall back to the last variant.
	return &c.Variants[len(c.Variants)-1]
}

// SelectDeterministic buckets the session fingerprint into the weight space:
// bucket = |hash32(fingerprint)| mod totalWeight, then walks the variants
// accumulating weight until the bucket falls below the running threshold.
// The same fingerprint and config always yield the same variant.
func SelectDeterministic(c *Config, fingerprint string) *Variant {
	if !c.Active() {
		return nil
	}
	total := c.TotalWeight()
	if total <= 0 {
		return &c.Variants[0]
	}

	h := int64(hash32(fingerprint))
	if h < 0 {
		h = -h
	}
	bucket := int(h % int64(total))

	threshold := 0
	for i := range c.Variants {
		if c.Variants[i].Weight > 0 {
			threshold += c.Variants[i].Weight
		}
		if bucket < threshold {
			return &c.Variants[i]
		}
	}
	return &c.Variants[len(c.Variants)-1]
}

// hash32 accumulates h = (h << 5) - h + c over the string with 32-bit
// signed wraparound.
func hash32(s string) int32 {
	var h int32
	for _, r := range s {
		h = (h << 5) - h + int32(r)
	}
	return h
}

// randFloat returns a cryptographically random float64 in [0,1).
func randFloat() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	// 53 random bits scaled into [0,1), same construction as math/rand.
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}
