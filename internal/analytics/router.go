package analytics

import (
	"regexp"
	"strings"
)

// RouteDecision is the heuristic router's verdict for one query.
type RouteDecision struct {
	UseAnalytics bool
	Reason       string
}

var aggregationPatterns = compileAll(
	`\bhow many\b`,
	`\bcount\b`,
	`\bnumber of\b`,
	`\bdistinct\b`,
	`\bunique\b`,
	`\bbreakdown\b`,
	`\bgroup by\b`,
	`\baverage\b`,
	`\bmean\b`,
	`\bsum\b`,
	`\btotal\b`,
	`\bmin(?:imum)?\b`,
	`\bmax(?:imum)?\b`,
	`\blowest\b`,
	`\bhighest\b`,
)

var listPatterns = compileAll(
	`\blist\b`,
	`\bshow\b`,
	`\bfind\b`,
	`\bget\b`,
	`\bwhat are\b`,
	`\bwho are\b`,
	`\bwhich\b`,
	`\bfilter\b`,
	`\bfrom\s+\w+\b`,
	`\bwhere\b`,
	`\bcustomers?\s+(?:from|in|with|where)\b`,
	`\b(?:names?|emails?|addresses?)\s+of\b`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Route decides whether a query should try the analytics path. Pure
// heuristic over the raw query; false positives are acceptable because
// plan validation guards the path and the orchestrator falls through on
// any analytics failure.
func Route(query string) RouteDecision {
	q := strings.TrimSpace(query)
	if q == "" {
		return RouteDecision{UseAnalytics: false, Reason: "empty_query"}
	}
	for _, re := range aggregationPatterns {
		if re.MatchString(q) {
			return RouteDecision{UseAnalytics: true, Reason: "aggregation_intent"}
		}
	}
	for _, re := range listPatterns {
		if re.MatchString(q) {
			return RouteDecision{UseAnalytics: true, Reason: "list_filter_intent"}
		}
	}
	return RouteDecision{UseAnalytics: false, Reason: "default_rag"}
}
