// Package classify tags user prompts with a query type using ordered
// pattern heuristics. No model call.
package classify

// #region imports
import (
	"regexp"
	"strings"
)

// #endregion

// #region query-types

// QueryType is one of the seven fixed classification tags.
type QueryType string

const (
	QueryCode       QueryType = "code"
	QueryDiagnostic QueryType = "diagnostic"
	QueryClaim      QueryType = "claim"
	QueryEmotional  QueryType = "emotional"
	QueryMeta       QueryType = "meta"
	QueryFactual    QueryType = "factual"
	QueryAmbiguous  QueryType = "ambiguous"
)

// QueryTypes lists every tag the classifier can produce.
var QueryTypes = []QueryType{
	QueryCode, QueryDiagnostic, QueryClaim, QueryEmotional,
	QueryMeta, QueryFactual, QueryAmbiguous,
}

// #endregion

// #region patterns

type category struct {
	tag      QueryType
	patterns []*regexp.Regexp
}

// categories are ordered by specificity. Ties on match count are broken by
// this declaration order.
var categories = []category{
	{QueryCode, compile(
		`(?:write|create|implement|refactor|fix|debug|add|remove|update|modify)\s+(?:a\s+)?(?:function|class|method|component|test|script|hook|endpoint|module)`,
		"```",
		`(?:typeerror|syntaxerror|valueerror|importerror|keyerror|attributeerror)`,
		`(?:how\s+(?:do|can|should)\s+i\s+(?:write|implement|create|build|make))`,
		`\b(?:npm|pip|git|docker|pytest|eslint|webpack|cargo)\b`,
	)},
	{QueryDiagnostic, compile(
		`(?:why\s+(?:is|does|isn't|doesn't|won't|can't|did))`,
		`(?:not\s+working|broken|failing|error|bug|issue|problem|crash)`,
		`(?:what's\s+wrong|what\s+happened|how\s+to\s+fix|troubleshoot)`,
		`(?:doesn't\s+(?:work|compile|run|build|start|connect))`,
	)},
	{QueryClaim, compile(
		`(?:is\s+it\s+true|i\s+(?:heard|read|think|believe)\s+that)`,
		`(?:according\s+to|supposedly|they\s+say|isn't\s+it\s+(?:true|correct))`,
		`(?:verify|confirm|fact.?check|is\s+this\s+(?:correct|accurate|right))`,
	)},
	{QueryEmotional, compile(
		`(?:i'm\s+(?:frustrated|stuck|confused|worried|overwhelmed|lost))`,
		`(?:help\s+me\s+understand|i\s+don't\s+(?:get|understand))`,
		`(?:this\s+is\s+(?:driving\s+me\s+crazy|so\s+frustrating|impossible))`,
	)},
	{QueryMeta, compile(
		`(?:how\s+(?:do\s+you|does\s+this)\s+work)`,
		`(?:what\s+(?:can\s+you|tools|skills|commands)\s+(?:do|are|have))`,
		`(?:tell\s+me\s+about\s+(?:yourself|your|this\s+(?:plugin|system)))`,
		`/\w+`, // slash commands
	)},
	{QueryFactual, compile(
		`(?:what\s+is|who\s+is|when\s+(?:did|was|is)|where\s+(?:is|are|was))`,
		`(?:how\s+(?:many|much|long|old|far|often))`,
		`(?:list\s+(?:the|all)|show\s+me|find\s+(?:the|all))`,
		`(?:look\s+up|search\s+for|check\s+(?:the|if|whether))`,
	)},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// #endregion

// #region classify

// Classify tags a prompt. Total function: every input, including empty,
// yields exactly one tag.
func Classify(prompt string) QueryType {
	lower := strings.ToLower(strings.TrimSpace(prompt))
	if lower == "" {
		return QueryAmbiguous
	}

	scores := make(map[QueryType]int)
	maxScore := 0
	for _, cat := range categories {
		n := 0
		for _, p := range cat.patterns {
			if p.MatchString(lower) {
				n++
			}
		}
		if n > 0 {
			scores[cat.tag] = n
			if n > maxScore {
				maxScore = n
			}
		}
	}

	if maxScore == 0 {
		return QueryAmbiguous
	}

	// Highest score wins; declaration order breaks ties.
	for _, cat := range categories {
		if scores[cat.tag] == maxScore {
			return cat.tag
		}
	}
	return QueryAmbiguous
}

// #endregion
