package limbic

// Posture is the derived categorical behavioral stance computed from the
// affective vector. It shapes deliberation weighting and response tone.
type Posture string

const (
	PostureWithdrawn Posture = "withdrawn"
	PostureGuarded   Posture = "guarded"
	PostureExuberant Posture = "exuberant"
	PosturePlayful   Posture = "playful"
	PostureWarm      Posture = "warm"
	PostureAttentive Posture = "attentive"
	PostureNeutral   Posture = "neutral"
)

// postureRule is one threshold rule. Rules are evaluated in declaration
// order and the first match wins, which doubles as the tie-break.
type postureRule struct {
	posture Posture
	match   func(v map[Variable]float64) bool
}

// postureRules is the fixed, ordered classification table. Withdrawal
// and guardedness are checked before any positive posture so a low-trust
// or low-valence state can never present as warm.
var postureRules = []postureRule{
	{PostureWithdrawn, func(v map[Variable]float64) bool {
		return get(v, VarValence) < -0.4
	}},
	{PostureGuarded, func(v map[Variable]float64) bool {
		return get(v, VarTrust) < 0.25
	}},
	{PostureExuberant, func(v map[Variable]float64) bool {
		return get(v, VarValence) > 0.6 && get(v, VarArousal) > 0.7
	}},
	{PosturePlayful, func(v map[Variable]float64) bool {
		return get(v, VarValence) > 0.4 && get(v, VarArousal) > 0.5
	}},
	{PostureWarm, func(v map[Variable]float64) bool {
		return get(v, VarWarmth) > 0.6 && get(v, VarValence) > 0.1
	}},
	{PostureAttentive, func(v map[Variable]float64) bool {
		return get(v, VarArousal) > 0.6
	}},
}

// ClassifyPosture maps an affective vector to its posture. Deterministic:
// same vector, same posture.
func ClassifyPosture(values map[Variable]float64) Posture {
	for _, r := range postureRules {
		if r.match(values) {
			return r.posture
		}
	}
	return PostureNeutral
}

// Positive reports whether the posture is a positive-affect category.
func (p Posture) Positive() bool {
	switch p {
	case PostureExuberant, PosturePlayful, PostureWarm:
		return true
	default:
		return false
	}
}

func get(v map[Variable]float64, key Variable) float64 {
	if x, ok := v[key]; ok {
		return x
	}
	lo, hi := Bounds(key)
	return (lo + hi) / 2
}
