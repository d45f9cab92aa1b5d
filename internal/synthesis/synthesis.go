// Package synthesis renders converged deliberation output into final text.
// Rendering is a deterministic post-processing step: it never calls the
// generation provider, only shapes already-generated content by posture and
// capability level.
package synthesis

import (
	"strings"

	"github.com/jkaninda/nafsi/internal/degradation"
	"github.com/jkaninda/nafsi/internal/limbic"
)

// style is the fixed tone transform applied for a posture.
type style struct {
	// softenExclaim replaces exclamation marks, flattening the register.
	softenExclaim bool
	// maxSentences truncates the response. Zero means no limit.
	maxSentences int
}

// postureStyles is the tone shaping table. Postures not listed render
// unchanged.
var postureStyles = map[limbic.Posture]style{
	limbic.PostureWithdrawn: {softenExclaim: true, maxSentences: 2},
	limbic.PostureGuarded:   {softenExclaim: true},
}

// disclaimers appended when capability is below FULL. UNAVAILABLE never
// reaches the renderer; the core short-circuits it.
var disclaimers = map[degradation.Capability]string{
	degradation.CapabilityReduced: "(I'm running with limited recall at the moment, so I may be missing some context.)",
	degradation.CapabilityMinimal: "(I'm running in a minimal mode at the moment, so I'm keeping this brief.)",
}

// Render shapes converged text by posture and capability level.
func Render(text string, posture limbic.Posture, level degradation.Capability) string {
	out := strings.TrimSpace(text)
	if out == "" {
		return out
	}

	if st, ok := postureStyles[posture]; ok {
		if st.softenExclaim {
			out = softenExclamations(out)
		}
		if st.maxSentences > 0 {
			out = truncateSentences(out, st.maxSentences)
		}
	}

	if d, ok := disclaimers[level]; ok {
		out = out + "\n\n" + d
	}
	return out
}

func softenExclamations(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		if r != '!' {
			b.WriteRune(r)
			continue
		}
		// Collapse runs of exclamation marks to a single period.
		if i > 0 && s[i-1] == '!' {
			continue
		}
		b.WriteRune('.')
	}
	return b.String()
}

// truncateSentences keeps the first n sentences. Sentence boundaries are
// terminal punctuation followed by a space or end of text.
func truncateSentences(s string, n int) string {
	count := 0
	for i, r := range s {
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\n' {
			continue
		}
		count++
		if count == n {
			return strings.TrimSpace(s[:i+1])
		}
	}
	return s
}
