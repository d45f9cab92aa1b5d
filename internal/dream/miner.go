package dream

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/memory"
)

// pattern is one mined observation from a memory window.
type pattern struct {
	key         string
	claim       string
	occurrences int
	evidenceIDs []uuid.UUID
}

var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "because": true, "been": true,
	"before": true, "being": true, "could": true, "doing": true, "down": true,
	"every": true, "from": true, "have": true, "having": true, "here": true,
	"into": true, "just": true, "like": true, "more": true, "most": true,
	"only": true, "other": true, "over": true, "really": true, "same": true,
	"should": true, "since": true, "some": true, "such": true, "than": true,
	"that": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "thing": true, "think": true, "this": true,
	"through": true, "very": true, "want": true, "well": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "while": true,
	"will": true, "with": true, "would": true, "your": true,
}

// minePatterns extracts recurring topics and activity habits from a window
// of counterpart-authored records. Output order is deterministic (sorted by
// key).
func minePatterns(records []memory.Record, minMentions int) []pattern {
	type topicCount struct {
		n   int
		ids []uuid.UUID
	}
	topics := make(map[string]*topicCount)
	periods := make(map[string]*topicCount)
	var counterpartRecords int

	for _, rec := range records {
		if rec.Participant != memory.ParticipantCounterpart {
			continue
		}
		counterpartRecords++

		seen := make(map[string]bool)
		for _, tok := range topicTokens(rec.Text) {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			tc := topics[tok]
			if tc == nil {
				tc = &topicCount{}
				topics[tok] = tc
			}
			tc.n++
			tc.ids = append(tc.ids, rec.ID)
		}

		p := activityPeriod(rec.Timestamp.Hour())
		pc := periods[p]
		if pc == nil {
			pc = &topicCount{}
			periods[p] = pc
		}
		pc.n++
		pc.ids = append(pc.ids, rec.ID)
	}

	var out []pattern
	for topic, tc := range topics {
		if tc.n < minMentions {
			continue
		}
		out = append(out, pattern{
			key:         "topic." + topic,
			claim:       fmt.Sprintf("frequently brings up %q", topic),
			occurrences: tc.n,
			evidenceIDs: tc.ids,
		})
	}

	// A dominant activity period needs a real sample and a clear majority.
	for period, pc := range periods {
		if counterpartRecords < 5 {
			break
		}
		if float64(pc.n)/float64(counterpartRecords) < 0.6 {
			continue
		}
		out = append(out, pattern{
			key:         "habit.active_period",
			claim:       fmt.Sprintf("usually talks in the %s", period),
			occurrences: pc.n,
			evidenceIDs: pc.ids,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// topicTokens returns the distinct content words of a message.
func topicTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if len(f) < 4 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func activityPeriod(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}
