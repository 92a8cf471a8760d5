package game

import (
	"crypto/rand"
	"encoding/binary"
	"log"
)

// Tier is one band of the crash-point distribution. A uniform draw landing in
// [CumLow, CumHigh) maps linearly onto [Low, High).
type Tier struct {
	CumLow  float64
	CumHigh float64
	Low     float64
	High    float64
}

// DefaultTiers weights outcomes toward low multipliers to bound house exposure:
// 50% in [1.01,2.00), 30% in [2.00,5.00), 15% in [5.00,10.00), 5% in [10.00,20.00).
func DefaultTiers() []Tier {
	return []Tier{
		{CumLow: 0.00, CumHigh: 0.50, Low: 1.01, High: 2.00},
		{CumLow: 0.50, CumHigh: 0.80, Low: 2.00, High: 5.00},
		{CumLow: 0.80, CumHigh: 0.95, Low: 5.00, High: 10.00},
		{CumLow: 0.95, CumHigh: 1.00, Low: 10.00, High: 20.00},
	}
}

// UniformSource yields uniform values in [0,1).
type UniformSource interface {
	Float64() float64
}

// CryptoSource draws 64-bit uniforms from crypto/rand.
type CryptoSource struct{}

const maxUint64Float = 18446744073709551616.0 // 2^64

func (CryptoSource) Float64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the host is broken; the minimum
		// multiplier is the safest outcome for the house.
		log.Printf("[OUTCOME] crypto/rand failed: %v", err)
		return 0
	}
	return float64(binary.BigEndian.Uint64(b[:])) / maxUint64Float
}

// Generator draws crash points from a tiered distribution.
type Generator struct {
	tiers []Tier
	src   UniformSource
}

func NewGenerator(tiers []Tier, src UniformSource) *Generator {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	if src == nil {
		src = CryptoSource{}
	}
	return &Generator{tiers: tiers, src: src}
}

// Generate returns a crash point drawn once from the tier table.
func (g *Generator) Generate() float64 {
	return g.FromUniform(g.src.Float64())
}

// FromUniform maps a uniform r in [0,1) through the tier table. Within a tier
// the output is uniform across the tier's sub-range. Pure; used by both the
// crypto draw and the provably-fair seed draw.
func (g *Generator) FromUniform(r float64) float64 {
	if r < 0 {
		r = 0
	}
	if r >= 1 {
		r = 0.999999999
	}
	for _, t := range g.tiers {
		if r < t.CumHigh {
			frac := (r - t.CumLow) / (t.CumHigh - t.CumLow)
			return t.Low + frac*(t.High-t.Low)
		}
	}
	last := g.tiers[len(g.tiers)-1]
	return last.Low
}
