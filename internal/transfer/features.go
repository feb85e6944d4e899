// Package transfer derives reusable knowledge patterns from teacher output
// and packages them for a student model.
package transfer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/distill-cli/internal/model"
)

// maxSignatureTokens caps the structure signature length.
const maxSignatureTokens = 10

// Style classes.
const (
	StyleAcademic       = "academic"
	StyleConversational = "conversational"
	StyleDetailed       = "detailed"
	StyleCasual         = "casual"
)

// Format types.
const (
	FormatJSON       = "json"
	FormatList       = "list"
	FormatTable      = "table"
	FormatBulletList = "bullet_list"
)

var (
	formalMarkers   = []string{"therefore", "however", "furthermore", "nevertheless", "consequently"}
	informalMarkers = []string{"don't", "can't", "won't", "i'm", "it's", "that's"}

	capitalizedTerm = regexp.MustCompile(`\b[A-Z][a-z]*(?:[A-Z][a-z]*)*\b`)
)

// StructureSignature reduces text to its line-level layout, e.g.
// "HEADER_LIST_LIST_TEXT". Blank lines are skipped.
func StructureSignature(text string) string {
	var tokens []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			tokens = append(tokens, "HEADER")
		case strings.HasPrefix(line, "-"), strings.HasPrefix(line, "*"):
			tokens = append(tokens, "LIST")
		case strings.HasPrefix(line, "1."), strings.HasPrefix(line, "2."), strings.HasPrefix(line, "3."):
			tokens = append(tokens, "NUMBERED")
		case strings.HasSuffix(line, ":"):
			tokens = append(tokens, "LABEL")
		case strings.Contains(line, "?"):
			tokens = append(tokens, "QUESTION")
		default:
			tokens = append(tokens, "TEXT")
		}
		if len(tokens) == maxSignatureTokens {
			break
		}
	}
	return strings.Join(tokens, "_")
}

// Formality scores text by formal minus informal marker frequency per 100
// words, floored at zero.
func Formality(text string) float64 {
	lower := strings.ToLower(text)
	var formal, informal int
	for _, w := range formalMarkers {
		formal += strings.Count(lower, w)
	}
	for _, w := range informalMarkers {
		informal += strings.Count(lower, w)
	}

	words := max(1, len(strings.Fields(text)))
	score := float64(formal-informal) / float64(words) * 100
	return max(0, score)
}

// Style holds the per-example features used for style classification.
type Style struct {
	SentenceLength float64 `json:"sentence_length"`
	Formality      float64 `json:"formality"`
	TechnicalTerms int     `json:"technical_terms"`
	QuestionRatio  float64 `json:"question_ratio"`
}

// StyleFeatures computes Style for text.
func StyleFeatures(text string) Style {
	sentences := strings.Split(text, ".")
	var words int
	for _, s := range sentences {
		words += len(strings.Fields(s))
	}

	return Style{
		SentenceLength: float64(words) / float64(len(sentences)),
		Formality:      Formality(text),
		TechnicalTerms: len(capitalizedTerm.FindAllString(text, -1)),
		QuestionRatio:  float64(strings.Count(text, "?")) / float64(max(1, strings.Count(text, "."))),
	}
}

// ClassifyStyle buckets features into one of the style classes.
func ClassifyStyle(s Style) string {
	switch {
	case s.Formality > 2 && s.TechnicalTerms > 3:
		return StyleAcademic
	case s.QuestionRatio > 0.2:
		return StyleConversational
	case s.SentenceLength > 15:
		return StyleDetailed
	default:
		return StyleCasual
	}
}

// DetectFormat returns the output format of text, or "" when none applies.
func DetectFormat(text string) string {
	trimmed := strings.TrimSpace(strings.ToLower(text))
	switch {
	case strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}"):
		return FormatJSON
	case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
		return FormatList
	case strings.Contains(text, "|") && strings.Contains(text, "\n"):
		return FormatTable
	case strings.Count(text, "\n") > 5 && hasBulletLine(text):
		return FormatBulletList
	}
	return ""
}

func hasBulletLine(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			return true
		}
	}
	return false
}

// CommonKeywords returns up to five keywords ranked by how many examples
// carry them. Ties keep first-seen order.
func CommonKeywords(examples []model.TeacherExample) []string {
	counts := make(map[string]int)
	var order []string
	for _, ex := range examples {
		for _, kw := range ex.Context.Keywords {
			if counts[kw] == 0 {
				order = append(order, kw)
			}
			counts[kw]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > 5 {
		order = order[:5]
	}
	return order
}

// sortedKeywords returns a sorted copy of kws.
func sortedKeywords(kws []string) []string {
	out := append([]string(nil), kws...)
	sort.Strings(out)
	return out
}
