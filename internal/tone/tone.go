// Package tone provides the whitelist of outreach tone tags, tag parsing with mutual-exclusion
// enforcement, and prompt-guide construction for content generation.
package tone

import (
	"strings"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

// ---- Whitelist ----

// AllTags is the hard-coded set of safe tone tags.
var AllTags = map[string]bool{
	// Style
	"concise":       true,
	"detailed":      true,
	"formal":        true,
	"casual":        true,
	"no_emojis":     true,
	"emojis_ok":     true,
	"bullet_points": true,
	// Stance
	"warm":         true,
	"professional": true,
	"direct":       true,
	"consultative": true,
	"playful":      true,
	// Call to action
	"soft_cta":   true,
	"strong_cta": true,
	"urgent":     true,
}

// aliases maps common free-form words onto whitelisted tags.
var aliases = map[string]string{
	"short":     "concise",
	"brief":     "concise",
	"friendly":  "warm",
	"neutral":   "professional",
	"assertive": "direct",
	"fun":       "playful",
	"no emojis": "no_emojis",
	"bullets":   "bullet_points",
}

// mutuallyExclusivePairs defines tags where at most one may be active. The first one listed
// in the input wins.
var mutuallyExclusivePairs = [][2]string{
	{"concise", "detailed"},
	{"formal", "casual"},
	{"no_emojis", "emojis_ok"},
	{"soft_cta", "strong_cta"},
	{"professional", "playful"},
}

// ParseTags splits a comma-separated tag string, drops unknown tags and duplicates, and
// enforces mutual exclusion.
func ParseTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return NormalizeTags(strings.Split(s, ","))
}

// NormalizeTags cleans a tag list the same way ParseTags does.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if alias, ok := aliases[t]; ok {
			t = alias
		}
		t = strings.ReplaceAll(t, " ", "_")
		if !AllTags[t] || seen[t] || excluded(t, seen) {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func excluded(tag string, active map[string]bool) bool {
	for _, pair := range mutuallyExclusivePairs {
		if pair[0] == tag && active[pair[1]] {
			return true
		}
		if pair[1] == tag && active[pair[0]] {
			return true
		}
	}
	return false
}

// BuildToneGuide produces a compact instruction snippet for injection into LLM system prompts.
// It returns an empty string when there are no active tags.
func BuildToneGuide(tags []string, channel models.Channel) string {
	if len(tags) == 0 {
		return ""
	}

	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	var b strings.Builder
	b.WriteString("\n<TONE POLICY>\nWrite in the following style:\n")

	if set["concise"] {
		b.WriteString("- Be concise: short sentences, minimal filler.\n")
	}
	if set["detailed"] {
		b.WriteString("- Be detailed: give one or two concrete specifics, but avoid rambling.\n")
	}
	if set["formal"] {
		b.WriteString("- Use formal diction and a professional register.\n")
	}
	if set["casual"] {
		b.WriteString("- Use casual, friendly language.\n")
	}
	if set["no_emojis"] {
		b.WriteString("- Do NOT use emojis.\n")
	} else if set["emojis_ok"] && channel != models.ChannelVoice {
		b.WriteString("- An emoji is fine where it fits naturally.\n")
	}
	if set["bullet_points"] && channel == models.ChannelEmail {
		b.WriteString("- Prefer bullet points when listing items.\n")
	}

	hasStance := false
	if set["warm"] {
		b.WriteString("- Sound warm and personable.\n")
		hasStance = true
	}
	if set["professional"] {
		b.WriteString("- Keep a neutral, professional stance.\n")
		hasStance = true
	}
	if set["direct"] {
		b.WriteString("- Be direct: lead with the point and the ask.\n")
		hasStance = true
	}
	if set["consultative"] {
		b.WriteString("- Be consultative: frame the message around the lead's likely problem.\n")
		hasStance = true
	}
	if set["playful"] {
		b.WriteString("- A light, playful touch is welcome.\n")
		hasStance = true
	}
	if !hasStance {
		b.WriteString("- Keep a neutral, professional stance.\n")
	}

	if set["soft_cta"] {
		b.WriteString("- End with a low-pressure call to action.\n")
	}
	if set["strong_cta"] {
		b.WriteString("- End with one clear, specific call to action.\n")
	}
	if set["urgent"] {
		b.WriteString("- Convey timeliness without inventing deadlines.\n")
	}

	b.WriteString("- NEVER use deceptive claims, pressure tactics, or unsafe language.\n")
	b.WriteString("</TONE POLICY>\n")

	return b.String()
}
