package geometry

import (
	"math"

	"github.com/parcelmap/server/internal/geodata"
)

// Strategy names how a fix was produced.
type Strategy string

const (
	// StrategyDifference means the fix is the largest fragment left after
	// subtracting every obstacle.
	StrategyDifference Strategy = "difference"
	// StrategyShrink means the ring was scaled toward its centroid until it
	// cleared every obstacle.
	StrategyShrink Strategy = "shrink"
	// StrategyFallback is the last resort: the ring scaled to 5% of its size,
	// whether or not that clears the obstacles.
	StrategyFallback Strategy = "fallback"
	// StrategyNone means the candidate had no usable geometry.
	StrategyNone Strategy = "none"
)

const (
	shrinkStartPct     = 98
	shrinkEndPct       = 10
	hardFallbackFactor = 0.05
)

// Resolution is a repaired candidate ring together with how it was made.
// Ring is nil only for StrategyNone.
type Resolution struct {
	Ring     geodata.Ring
	Strategy Strategy
	Factor   float64
}

// Resolve computes a version of candidate that does not overlap any of the
// obstacles. Every obstacle is subtracted from every surviving fragment and
// the fragment with the largest absolute area wins; on equal areas the one
// produced first is kept. When nothing survives, the clipper fails, or the
// chosen fragment still overlaps an obstacle, the ring is shrunk instead.
func Resolve(candidate geodata.Ring, obstacles []geodata.Ring) Resolution {
	candidate = CleanupRing(candidate, DefaultEpsilon)
	if len(candidate) < 3 {
		return Resolution{Strategy: StrategyNone}
	}

	fragments := []geodata.Ring{candidate}
	for _, obstacle := range obstacles {
		var next []geodata.Ring
		for _, fragment := range fragments {
			pieces, err := subtract(fragment, obstacle)
			if err != nil {
				return shrink(candidate, obstacles)
			}
			next = append(next, pieces...)
		}
		fragments = next
		if len(fragments) == 0 {
			break
		}
	}

	if len(fragments) == 0 {
		return shrink(candidate, obstacles)
	}

	main := largest(fragments)
	if overlapsAny(main, obstacles) {
		return shrink(main, obstacles)
	}
	return Resolution{Ring: main, Strategy: StrategyDifference, Factor: 1}
}

// ResolveOverlap returns only the repaired ring of Resolve.
func ResolveOverlap(candidate geodata.Ring, obstacles []geodata.Ring) geodata.Ring {
	return Resolve(candidate, obstacles).Ring
}

// ShrinkAwayFromObstacles scales ring toward its vertex centroid, from 98%
// down to 10% in one-point steps, and returns the first size that overlaps
// none of the obstacles. If none does, the ring is returned at 5% size.
func ShrinkAwayFromObstacles(ring geodata.Ring, obstacles []geodata.Ring) geodata.Ring {
	return shrink(ring, obstacles).Ring
}

func shrink(ring geodata.Ring, obstacles []geodata.Ring) Resolution {
	for pct := shrinkStartPct; pct >= shrinkEndPct; pct-- {
		factor := float64(pct) / 100
		scaled := Scale(ring, factor)
		if !overlapsAny(scaled, obstacles) {
			return Resolution{Ring: scaled, Strategy: StrategyShrink, Factor: factor}
		}
	}
	return Resolution{
		Ring:     Scale(ring, hardFallbackFactor),
		Strategy: StrategyFallback,
		Factor:   hardFallbackFactor,
	}
}

func overlapsAny(ring geodata.Ring, obstacles []geodata.Ring) bool {
	for _, o := range obstacles {
		if Overlaps(ring, o) {
			return true
		}
	}
	return false
}

func largest(rings []geodata.Ring) geodata.Ring {
	best := rings[0]
	bestArea := math.Abs(SignedArea(best))
	for _, r := range rings[1:] {
		if a := math.Abs(SignedArea(r)); a > bestArea {
			best, bestArea = r, a
		}
	}
	return best
}
