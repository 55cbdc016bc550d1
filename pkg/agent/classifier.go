package agent

import (
	"regexp"
	"strings"
)

// Mode is how the agent handles a request.
type Mode int

// Modes, cheapest first.
const (
	DirectAnswer Mode = iota
	PlannedMultiStep
	IterativeReasoning
)

func (m Mode) String() string {
	switch m {
	case DirectAnswer:
		return "direct_answer"
	case PlannedMultiStep:
		return "planned_multi_step"
	case IterativeReasoning:
		return "iterative_reasoning"
	default:
		return "unknown"
	}
}

// Classifier picks the Mode for a request. Implementations must be pure:
// the same text always yields the same Mode.
type Classifier interface {
	Classify(text string) Mode
}

// RuleClassifier is the default heuristic classifier. It is approximate.
//
// Rules, in order: query phrases select DirectAnswer; multi-step verbs
// select PlannedMultiStep; modification verbs select IterativeReasoning.
// Otherwise a score of action words plus twice the scope multipliers picks
// PlannedMultiStep at 3 or more, IterativeReasoning at 2, DirectAnswer below.
// All matching is case-insensitive on word boundaries.
type RuleClassifier struct{}

var _ Classifier = RuleClassifier{}

//nolint:gochecknoglobals // compiled once
var (
	directTerms    = terms("how many", "what is", "what does", "where is", "which objects", "list", "show me", "tell me", "describe", "count")
	plannedTerms   = terms("implement", "build", "design", "complete", "generate", "fix all")
	iterativeTerms = terms("change", "modify", "update", "iterate", "improve")
	actionTerms    = terms("make", "change", "modify", "update", "create", "add", "remove", "fix")
	scopeTerms     = terms("all", "every", "multiple", "several", "complex", "each")
)

// Classify implements Classifier.
func (RuleClassifier) Classify(text string) Mode {
	t := strings.ToLower(text)
	switch {
	case anyMatch(directTerms, t):
		return DirectAnswer
	case anyMatch(plannedTerms, t):
		return PlannedMultiStep
	case anyMatch(iterativeTerms, t):
		return IterativeReasoning
	}
	switch score := Complexity(t); {
	case score >= 3:
		return PlannedMultiStep
	case score >= 2:
		return IterativeReasoning
	default:
		return DirectAnswer
	}
}

// Complexity counts the distinct action words in text plus twice the
// distinct scope multipliers.
func Complexity(text string) int {
	t := strings.ToLower(text)
	return countMatches(actionTerms, t) + 2*countMatches(scopeTerms, t)
}

func terms(words ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = wordPattern(w)
	}
	return out
}

func wordPattern(w string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(w)) + `\b`)
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func countMatches(res []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range res {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}
