package synthesis

import (
	"strings"
	"testing"

	"github.com/jkaninda/nafsi/internal/degradation"
	"github.com/jkaninda/nafsi/internal/limbic"
)

func TestRenderNeutralFullUnchanged(t *testing.T) {
	in := "That sounds like a good plan. Let's start tomorrow!"
	out := Render(in, limbic.PostureNeutral, degradation.CapabilityFull)
	if out != in {
		t.Errorf("neutral/full should be unchanged: got %q", out)
	}
}

func TestRenderGuardedSoftensExclamations(t *testing.T) {
	out := Render("Amazing!! Let's do it!", limbic.PostureGuarded, degradation.CapabilityFull)
	if strings.Contains(out, "!") {
		t.Errorf("guarded posture should soften exclamations: got %q", out)
	}
	if out != "Amazing. Let's do it." {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRenderWithdrawnTruncates(t *testing.T) {
	in := "First sentence. Second sentence. Third sentence. Fourth sentence."
	out := Render(in, limbic.PostureWithdrawn, degradation.CapabilityFull)
	if out != "First sentence. Second sentence." {
		t.Errorf("expected two sentences, got %q", out)
	}
}

func TestRenderReducedAppendsDisclaimer(t *testing.T) {
	out := Render("Here is what I remember.", limbic.PostureNeutral, degradation.CapabilityReduced)
	if !strings.Contains(out, "limited recall") {
		t.Errorf("expected reduced disclaimer, got %q", out)
	}
	if !strings.HasPrefix(out, "Here is what I remember.") {
		t.Errorf("disclaimer should follow the response, got %q", out)
	}
}

func TestRenderMinimalAppendsDisclaimer(t *testing.T) {
	out := Render("Short answer.", limbic.PostureWarm, degradation.CapabilityMinimal)
	if !strings.Contains(out, "minimal mode") {
		t.Errorf("expected minimal disclaimer, got %q", out)
	}
}

func TestRenderDeterministic(t *testing.T) {
	in := "Well! That went better than expected! Shall we continue? Yes. Absolutely."
	first := Render(in, limbic.PostureWithdrawn, degradation.CapabilityReduced)
	for i := 0; i < 10; i++ {
		if got := Render(in, limbic.PostureWithdrawn, degradation.CapabilityReduced); got != first {
			t.Fatalf("render not deterministic: %q vs %q", got, first)
		}
	}
}

func TestRenderEmpty(t *testing.T) {
	if out := Render("   ", limbic.PostureNeutral, degradation.CapabilityReduced); out != "" {
		t.Errorf("expected empty output, got %q", out)
	}
}

func TestTruncateSentencesDecimalNotBoundary(t *testing.T) {
	in := "Pi is 3.14 roughly. Second sentence. Third."
	out := truncateSentences(in, 2)
	if out != "Pi is 3.14 roughly. Second sentence." {
		t.Errorf("decimal point treated as sentence boundary: %q", out)
	}
}
