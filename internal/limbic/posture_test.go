package limbic

import "testing"

func TestClassifyPosture(t *testing.T) {
	tests := []struct {
		name   string
		values map[Variable]float64
		want   Posture
	}{
		{
			name:   "empty vector is neutral",
			values: map[Variable]float64{},
			want:   PostureNeutral,
		},
		{
			name:   "strongly negative valence withdraws",
			values: map[Variable]float64{VarValence: -0.8, VarWarmth: 0.9},
			want:   PostureWithdrawn,
		},
		{
			name:   "low trust guards even when warm",
			values: map[Variable]float64{VarTrust: 0.1, VarWarmth: 0.9, VarValence: 0.5},
			want:   PostureGuarded,
		},
		{
			name:   "high valence and arousal is exuberant",
			values: map[Variable]float64{VarTrust: 0.8, VarValence: 0.7, VarArousal: 0.8},
			want:   PostureExuberant,
		},
		{
			name:   "moderate positive energy is playful",
			values: map[Variable]float64{VarTrust: 0.5, VarValence: 0.5, VarArousal: 0.6},
			want:   PosturePlayful,
		},
		{
			name:   "high warmth low arousal is warm",
			values: map[Variable]float64{VarTrust: 0.5, VarWarmth: 0.8, VarValence: 0.2, VarArousal: 0.2},
			want:   PostureWarm,
		},
		{
			name:   "high arousal alone is attentive",
			values: map[Variable]float64{VarTrust: 0.5, VarArousal: 0.7},
			want:   PostureAttentive,
		},
		{
			name: "withdrawn wins over exuberant by rule order",
			values: map[Variable]float64{
				VarValence: -0.5, VarArousal: 0.9, VarWarmth: 0.9, VarTrust: 0.9,
			},
			want: PostureWithdrawn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyPosture(tt.values); got != tt.want {
				t.Errorf("ClassifyPosture() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyPosture_Deterministic(t *testing.T) {
	v := map[Variable]float64{VarTrust: 0.6, VarValence: 0.45, VarArousal: 0.55}
	first := ClassifyPosture(v)
	for i := 0; i < 100; i++ {
		if got := ClassifyPosture(v); got != first {
			t.Fatalf("classification changed between calls: %q != %q", got, first)
		}
	}
}
