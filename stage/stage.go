// Package stage classifies free-form reasoning text into coarse cognitive
// stages used for progressive disclosure of model thinking.
//
// Classification is a priority cascade over an ordered rule list: the first
// rule with a keyword present anywhere in the text wins, so later-stage verbs
// ("verify", "implement") take precedence over earlier ones ("plan") when both
// occur. Text with no recognised keyword is Analyzing.
package stage

import "regexp"

// Stage is one of the five reasoning stages.
type Stage int

const (
	Analyzing Stage = iota
	Planning
	Deciding
	Executing
	Evaluating
)

var names = [...]string{
	Analyzing:  "Analyzing",
	Planning:   "Planning",
	Deciding:   "Deciding",
	Executing:  "Executing",
	Evaluating: "Evaluating",
}

func (s Stage) String() string {
	if s < Analyzing || s > Evaluating {
		return "Unknown"
	}
	return names[s]
}

// Icon returns a short glyph for renderers.
func (s Stage) Icon() string {
	switch s {
	case Planning:
		return "📋"
	case Deciding:
		return "⚖"
	case Executing:
		return "⚙"
	case Evaluating:
		return "✔"
	default:
		return "🔍"
	}
}

// Rule maps a stage to the word-boundary patterns that signal it.
type Rule struct {
	Stage    Stage
	Patterns []*regexp.Regexp
}

// wordBoundary matches the start of input or any rune that is not a Unicode
// letter, digit or underscore. Go's \b only knows ASCII word characters.
const wordBoundary = `(?:^|[^\p{L}\p{N}_])`

// wordEnd is the trailing counterpart of wordBoundary.
const wordEnd = `(?:$|[^\p{L}\p{N}_])`

// word builds a case-insensitive pattern anchored at a word start, so it
// never matches inside words such as "unchecked", "replan" or "éverify".
func word(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + wordBoundary + `(?:` + expr + `)`)
}

// DefaultRules is evaluated top to bottom.
var DefaultRules = []Rule{
	{Evaluating, []*regexp.Regexp{word(`evaluat\w*`), word(`validat\w*`), word(`verif\w*`), word(`check\w*`)}},
	{Executing, []*regexp.Regexp{word(`execut\w*`), word(`implement\w*`), word(`(?:write|writing|written)` + wordEnd)}},
	{Deciding, []*regexp.Regexp{word(`decid\w*`), word(`choos\w*`), word(`select\w*`), word(`determin\w*`)}},
	{Planning, []*regexp.Regexp{word(`plan\w*`), word(`design\w*`), word(`approach\w*`), word(`strateg\w*`)}},
}

// Classifier evaluates an ordered rule list.
type Classifier struct {
	rules    []Rule
	fallback Stage
}

// NewClassifier returns a Classifier over rules, falling back to Analyzing.
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules, fallback: Analyzing}
}

// Classify returns the stage of the first rule with a matching pattern.
func (c *Classifier) Classify(text string) Stage {
	if text == "" {
		return c.fallback
	}
	for _, r := range c.rules {
		for _, p := range r.Patterns {
			if p.MatchString(text) {
				return r.Stage
			}
		}
	}
	return c.fallback
}

var defaultClassifier = NewClassifier(DefaultRules)

// Classify classifies text with DefaultRules.
func Classify(text string) Stage {
	return defaultClassifier.Classify(text)
}
