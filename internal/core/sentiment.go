package core

import "strings"

// Small fixed lexicons for a deterministic per-turn sentiment estimate in
// [-1,1]. This is a coarse signal for the affective update; the deliberation
// step handles nuance.
var positiveWords = map[string]bool{
	"thanks": true, "thank": true, "great": true, "good": true, "love": true,
	"wonderful": true, "lovely": true, "happy": true, "glad": true, "nice": true,
	"perfect": true, "awesome": true, "amazing": true, "helpful": true,
	"appreciate": true, "excellent": true, "fun": true, "enjoyed": true,
	"best": true, "beautiful": true, "yes": true, "excited": true,
}

var negativeWords = map[string]bool{
	"hate": true, "awful": true, "terrible": true, "bad": true, "angry": true,
	"sad": true, "upset": true, "annoyed": true, "wrong": true, "useless": true,
	"frustrated": true, "disappointed": true, "worst": true, "horrible": true,
	"stupid": true, "broken": true, "tired": true, "stressed": true, "no": true,
	"stop": true, "lonely": true, "worried": true,
}

// estimateSentiment scores a message by lexicon hits, normalized to [-1,1].
// Messages with no hits score zero.
func estimateSentiment(text string) float64 {
	var pos, neg int
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		switch {
		case positiveWords[f]:
			pos++
		case negativeWords[f]:
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}
