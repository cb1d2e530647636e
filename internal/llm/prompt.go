package llm

import (
	"strings"
	"time"

	"github.com/pbaille/govpulse/internal/domain"
)

// Hints are the known codes a model should prefer when answering
type Hints struct {
	EventTypes []string
	Schemes    []string
}

// BuildPrompt renders the extraction prompt for one post
func BuildPrompt(post domain.RawPost, hints Hints) string {
	var sb strings.Builder

	sb.WriteString("Extract structured facts from this social media post. It may mix Hindi and English. Return JSON only.\n\n")
	if !post.CreatedAt.IsZero() {
		sb.WriteString("Post date: ")
		sb.WriteString(post.CreatedAt.Format(time.DateOnly))
		sb.WriteString("\n")
	}
	sb.WriteString("Post:\n")
	sb.WriteString(post.Text)
	sb.WriteString("\n\n")

	if len(hints.EventTypes) > 0 {
		sb.WriteString("Known event types (use one of these codes):\n")
		for _, code := range hints.EventTypes {
			sb.WriteString("- ")
			sb.WriteString(code)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(hints.Schemes) > 0 {
		sb.WriteString("Known government schemes (prefer these names when one is mentioned):\n")
		for _, name := range hints.Schemes {
			sb.WriteString("- ")
			sb.WriteString(name)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`Return a JSON object with this structure:
{
  "event_type": "meeting",
  "event_date": "2025-03-14",
  "locations": ["place names as written"],
  "people": ["person names without titles"],
  "organizations": ["parties, departments, bodies"],
  "schemes": ["scheme names"],
  "confidence": 0.9
}

Rules:
- event_type must be one of the known codes, or "other"
- event_date is YYYY-MM-DD; resolve "today"/"आज" and "yesterday"/"कल" against the post date; null if absent
- locations are villages, wards, towns, blocks or districts exactly as named in the post
- drop honorifics such as Shri, श्री, Smt, Dr from people
- use empty arrays for fields with nothing to report
- confidence is 0.0-1.0 based on how certain the extraction is

Return ONLY the JSON, no other text.`)

	return sb.String()
}
