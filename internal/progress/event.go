// Package progress reports coarse turn lifecycle events to the user.
//
// Progress is observational only. An Emitter never blocks its caller, never
// panics, and never reports failure; delivery problems are logged and dropped.
package progress

import (
	"strings"
	"time"
	"unicode"
)

// Kind is the category of a progress event.
type Kind string

const (
	Thinking   Kind = "thinking"
	Searching  Kind = "searching"
	Processing Kind = "processing"
	Generating Kind = "generating"
	Completing Kind = "completing"
	Error      Kind = "error"
	Warning    Kind = "warning"
	Retry      Kind = "retry"
	Success    Kind = "success"
)

// Event is one progress update.
type Event struct {
	Kind      Kind
	Action    string
	Context   string
	Timestamp time.Time
}

var phrases = map[Kind]map[string]string{
	Thinking: {
		"analyzing":     "Analyzing your request",
		"planning":      "Planning my approach",
		"understanding": "Understanding what you need",
		"preparing":     "Getting ready to help",
	},
	Searching: {
		"vector_search":    "Searching through knowledge base",
		"web_search":       "Searching the web",
		"atlassian_search": "Searching Jira and Confluence",
		"document_search":  "Looking through project documentation",
		"memory_search":    "Checking conversation history",
		"knowledge_lookup": "Finding relevant information",
	},
	Processing: {
		"analyzing_results": "Analyzing what I found",
		"filtering_results": "Filtering through search results",
		"gathering_info":    "Gathering relevant information",
		"synthesizing":      "Putting the pieces together",
		"summarizing":       "Condensing our earlier conversation",
	},
	Generating: {
		"response_generation": "Crafting your response",
		"answer_preparation":  "Preparing your answer",
		"formatting":          "Formatting the final response",
		"finalizing":          "Putting finishing touches on response",
	},
	Error: {
		"api_error":        "Hit a snag with external service",
		"search_error":     "Encountered issue while searching",
		"processing_error": "Ran into processing difficulty",
		"connection_error": "Network hiccup detected",
		"escalated":        "Could not get an answer from a source, flagging for follow-up",
	},
	Warning: {
		"limited_results": "Found limited results, broadening search",
		"api_limit":       "Rate limit reached, adjusting approach",
		"partial_failure": "Some services unavailable, working around it",
		"fallback":        "Primary method unavailable, trying alternative",
		"deadline":        "Running out of time, answering with what I have",
	},
	Retry: {
		"retry_search":     "Trying search again with different approach",
		"retry_api":        "Retrying API call after brief pause",
		"retry_processing": "Attempting processing again",
		"retry_generation": "Regenerating response with new strategy",
	},
}

var emoji = map[Kind]string{
	Thinking:   "🤔",
	Searching:  "🔍",
	Processing: "⚙️",
	Generating: "✨",
	Completing: "✅",
	Error:      "⚠️",
	Warning:    "⚡",
	Retry:      "🔄",
	Success:    "✅",
}

// Format renders e as a short natural-language status line.
func Format(e Event) string {
	phrase, ok := phrases[e.Kind][e.Action]
	if !ok {
		phrase = titleCase(e.Action)
	}

	msg := phrase
	if e.Context != "" {
		switch {
		case e.Kind == Error:
			msg = phrase + ": " + e.Context
		case e.Kind == Warning:
			msg = phrase + " (" + e.Context + ")"
		case strings.Contains(strings.ToLower(e.Action), "search"):
			msg = phrase + " for " + e.Context
		case !strings.Contains(phrase, e.Context):
			msg = phrase + " - " + e.Context
		}
	}

	icon, ok := emoji[e.Kind]
	if !ok {
		icon = "💭"
	}
	return icon + " " + msg + "..."
}

func titleCase(action string) string {
	words := strings.Fields(strings.ReplaceAll(action, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
