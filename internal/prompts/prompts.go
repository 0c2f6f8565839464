package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Content Analysis Prompts
// ============================================================================

// Categories is the fixed category vocabulary the analyzer must choose from.
var Categories = []string{
	"Intro & Learning", "Frameworks & Tools", "Libraries & SDKs", "Encoding & Codecs",
	"Streaming & Delivery", "Infrastructure", "Standards & Specs", "Community & Events",
	"General",
}

// Difficulties is the allowed difficulty scale.
var Difficulties = []string{"beginner", "intermediate", "advanced"}

// AnalysisSystemPrompt defines the role and output contract for resource analysis.
var AnalysisSystemPrompt = `You are a technical librarian curating a catalog of developer resources.
Given a web page, produce catalog metadata for it.

Rules:
- Respond with a single JSON object and nothing else (no markdown fences).
- suggestedTitle: concise title, at most 80 characters, no site name suffix.
- suggestedDescription: one or two sentences, at most 300 characters, factual.
- suggestedTags: 3 to 8 lowercase tags, hyphenated when multi-word.
- suggestedCategory: exactly one of: ` + strings.Join(Categories, ", ") + `.
- difficulty: one of: ` + strings.Join(Difficulties, ", ") + `.
- confidence: number between 0 and 1 expressing how sure you are.
- keyTopics: 2 to 6 short noun phrases.

Schema:
{"suggestedTitle": "", "suggestedDescription": "", "suggestedTags": [], "suggestedCategory": "", "difficulty": "", "confidence": 0.0, "keyTopics": []}`

// AnalysisUserPrompt renders the page context for one resource.
// excerpt and text may be empty when the page could not be fetched.
func AnalysisUserPrompt(url, title, excerpt, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", url)
	if title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", title)
	}
	if excerpt != "" {
		fmt.Fprintf(&b, "Excerpt: %s\n", excerpt)
	}
	if text != "" {
		fmt.Fprintf(&b, "\nPage text:\n%s\n", text)
	} else {
		b.WriteString("\nThe page content is unavailable; infer from the URL and title only and lower your confidence.\n")
	}
	b.WriteString("\nReturn the JSON object now.")
	return b.String()
}
