package monologue

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jkaninda/nafsi/internal/limbic"
)

// stancePrompts parameterize each perspective's bias.
var stancePrompts = map[Perspective]string{
	PerspectiveCautious: "You reason cautiously. Prefer the safe interpretation, flag risks " +
		"and uncertainty, and never propose an action unless it is clearly wanted.",
	PerspectiveExploratory: "You reason exploratorily. Offer the creative angle, surface " +
		"connections to past conversations, and suggest ideas the counterpart may not have considered.",
	PerspectiveEmpathic: "You reason empathically. Focus on how the counterpart feels, " +
		"acknowledge it explicitly, and shape the response around their emotional needs.",
	PerspectiveAnalytic: "You reason analytically. Break the message into its parts, " +
		"answer precisely, and keep the response structured and factual.",
}

const responseFormat = `Respond with a single JSON object:
{"response": "<your reply to the counterpart>", "confidence": <0.0-1.0>, "action": {"category": "...", "name": "...", "parameters": {...}}}
Omit "action" unless a side effect is genuinely needed. Output nothing outside the JSON object.`

// buildSystemPrompt assembles the shared context plus the perspective's
// stance. Every perspective in a turn sees identical context.
func buildSystemPrompt(in *Input, p Perspective) string {
	var b strings.Builder

	b.WriteString("You are one inner voice of a persistent companion agent")
	if in.CounterpartName != "" {
		fmt.Fprintf(&b, " talking with %s", in.CounterpartName)
	}
	b.WriteString(".\n\n")

	b.WriteString(stancePrompts[p])
	b.WriteString("\n")

	if in.Affect != nil {
		b.WriteString("\nCurrent emotional state:\n")
		fmt.Fprintf(&b, "- posture: %s\n", in.Affect.Posture)
		for _, v := range []limbic.Variable{limbic.VarValence, limbic.VarWarmth, limbic.VarTrust, limbic.VarArousal} {
			fmt.Fprintf(&b, "- %s: %.2f\n", v, in.Affect.Get(v))
		}
	}

	if len(in.Heritage) > 0 {
		b.WriteString("\nWhat you know about the counterpart:\n")
		keys := make([]string, 0, len(in.Heritage))
		for k := range in.Heritage {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, in.Heritage[k])
		}
	}

	if len(in.Memories) > 0 {
		b.WriteString("\nRelevant memories, most relevant first:\n")
		for _, m := range in.Memories {
			fmt.Fprintf(&b, "- [%s, %s] %s\n", m.Timestamp.Format("2006-01-02"), m.Participant, m.Text)
		}
	}

	b.WriteString("\n")
	b.WriteString(responseFormat)
	return b.String()
}
