// Package degradation monitors dependency health and exposes the system-wide
// capability level every other component branches on.
package degradation

// Capability is the system-wide degradation tier. Higher is healthier.
type Capability int

const (
	// CapabilityUnavailable short-circuits turns to a fixed fallback with
	// no state mutation. Entered whenever durable storage is down.
	CapabilityUnavailable Capability = iota
	// CapabilityMinimal disables multi-perspective deliberation in favor
	// of a single fast perspective.
	CapabilityMinimal
	// CapabilityReduced disables the dream cycle and retrieval diversity.
	CapabilityReduced
	// CapabilityFull is normal operation.
	CapabilityFull
)

// String returns the capability level name.
func (c Capability) String() string {
	switch c {
	case CapabilityFull:
		return "FULL"
	case CapabilityReduced:
		return "REDUCED"
	case CapabilityMinimal:
		return "MINIMAL"
	case CapabilityUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Dependency identifies a probed dependency.
type Dependency string

const (
	DepGeneration Dependency = "generation"
	DepEmbedding  Dependency = "embedding"
	DepStorage    Dependency = "storage"
)

// impliedLevel maps the set of unhealthy dependencies to the capability
// level. Storage loss dominates since no turn can be durably recorded
// without it. Losing both generation and embedding leaves only the single
// fast-path perspective; losing either one alone still allows a reduced
// turn.
func impliedLevel(unhealthy map[Dependency]bool) Capability {
	if unhealthy[DepStorage] {
		return CapabilityUnavailable
	}
	if unhealthy[DepGeneration] && unhealthy[DepEmbedding] {
		return CapabilityMinimal
	}
	if unhealthy[DepGeneration] || unhealthy[DepEmbedding] {
		return CapabilityReduced
	}
	return CapabilityFull
}
