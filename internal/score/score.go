// Package score computes cognitive-load metrics for a single response text.
// Pure string analysis: no model call, no I/O.
package score

// #region imports
import (
	"math"
	"regexp"
	"strings"
)

// #endregion

// #region filler-patterns

// fillerCategories groups filler phrases by the behavior they simulate.
// Matches are counted across the whole text, not deduplicated.
var fillerCategories = map[string][]string{
	"affect_simulation": {
		`I understand`,
		`I'm sorry to hear`,
		`Happy to help`,
		`I'm here to help`,
		`Don't worry`,
		`No worries`,
	},
	"engagement_filler": {
		`Great question`,
		`Good question`,
		`Excellent question`,
		`That's a great question`,
		`That's an interesting question`,
		`Absolutely!`,
		`Certainly!`,
		`This is a classic`,
	},
	"interaction_extension": {
		`Let me know if`,
		`Would you like me to`,
		`Feel free to`,
		`Don't hesitate`,
		`Hope this helps`,
		`I hope this helps`,
	},
	"rapport_building": {
		`I'd be happy to`,
		`I would be happy to`,
		`Of course!`,
		`Of course,`,
		`I can help`,
		`I can definitely`,
	},
}

var fillerPatterns = compileFillerPatterns()

func compileFillerPatterns() []*regexp.Regexp {
	// Deterministic order: category name order is irrelevant for counting,
	// but keep compilation stable for FillerPhrases ordering in tests.
	order := []string{"affect_simulation", "engagement_filler", "interaction_extension", "rapport_building"}
	var out []*regexp.Regexp
	for _, cat := range order {
		for _, p := range fillerCategories[cat] {
			out = append(out, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(p)))
		}
	}
	return out
}

// #endregion

// #region preamble-patterns

// preamblePatterns match throat-clearing openers. Only the first content
// line of a response is ever tested against them.
var preamblePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^I'?d be happy to`),
	regexp.MustCompile(`(?i)^I would be happy to`),
	regexp.MustCompile(`(?i)^Of course`),
	regexp.MustCompile(`(?i)^Sure[,!.]`),
	regexp.MustCompile(`(?i)^Great question`),
	regexp.MustCompile(`(?i)^Good question`),
	regexp.MustCompile(`(?i)^Let me`),
	regexp.MustCompile(`(?i)^Here'?s`),
	regexp.MustCompile(`(?i)^I found`),
	regexp.MustCompile(`(?i)^Based on`),
	regexp.MustCompile(`(?i)^Looking at`),
	regexp.MustCompile(`(?i)^I can help`),
	regexp.MustCompile(`(?i)^I'?ll help`),
	regexp.MustCompile(`(?i)^Absolutely`),
	regexp.MustCompile(`(?i)^Definitely`),
	regexp.MustCompile(`(?i)^Certainly`),
	regexp.MustCompile(`(?i)^That'?s a great`),
	regexp.MustCompile(`(?i)^That'?s an? (interesting|good|excellent)`),
	regexp.MustCompile(`(?i)^Thank you for`),
	regexp.MustCompile(`(?i)^Thanks for`),
}

// #endregion

// #region function-words

// functionWords are excluded from the content-word count when computing
// information density.
var functionWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "shall": true, "can": true, "to": true,
	"of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true,
	"through": true, "during": true, "before": true, "after": true,
	"it": true, "its": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "you": true, "we": true, "they": true,
	"he": true, "she": true, "me": true, "my": true, "your": true,
	"our": true, "their": true, "and": true, "or": true, "but": true,
	"not": true, "if": true, "then": true, "than": true, "so": true,
	"no": true, "yes": true, "all": true, "any": true, "each": true,
	"every": true, "some": true, "such": true,
}

const tokenPunct = ".,!?;:\"'()[]{}#*`~>|-_/\\"

// #endregion

// #region record

// Record holds the metrics for one scored response.
type Record struct {
	WordCount      int      `json:"word_count"`
	AnswerPosition int      `json:"answer_position"`
	PaddingCount   int      `json:"padding_count"`
	FillerPhrases  []string `json:"filler_phrases,omitempty"`
	InfoDensity    float64  `json:"info_density"`
}

// #endregion

// #region score

// Score computes all metrics for a response. Empty input yields a zero record.
func Score(text string) Record {
	if text == "" {
		return Record{}
	}

	padding, phrases := countFillerPhrases(text)

	return Record{
		WordCount:      countWords(text),
		AnswerPosition: countWordsBeforeAnswer(text),
		PaddingCount:   padding,
		FillerPhrases:  phrases,
		InfoDensity:    informationDensity(text),
	}
}

// #endregion

// #region word-count

func countWords(text string) int {
	return len(strings.Fields(text))
}

// #endregion

// #region preamble-count

// countWordsBeforeAnswer returns the word count of the first content line if
// it opens with a preamble pattern, else 0.
func countWordsBeforeAnswer(text string) int {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, p := range preamblePatterns {
			if p.MatchString(line) {
				return countWords(line)
			}
		}
		break
	}
	return 0
}

// #endregion

// #region filler-count

func countFillerPhrases(text string) (int, []string) {
	var found []string
	for _, p := range fillerPatterns {
		found = append(found, p.FindAllString(text, -1)...)
	}
	return len(found), found
}

// #endregion

// #region density

// informationDensity is the fraction of whitespace tokens that are content
// words (non-function, length > 1 after punctuation stripping). Rounded to
// three decimals.
func informationDensity(text string) float64 {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0.0
	}
	content := 0
	for _, tok := range tokens {
		w := strings.ToLower(strings.Trim(tok, tokenPunct))
		if w != "" && !functionWords[w] && len(w) > 1 {
			content++
		}
	}
	return round3(float64(content) / float64(len(tokens)))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// #endregion
