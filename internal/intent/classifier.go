// Package intent classifies free text into a small set of intents using
// keyword and regular-expression rules. Classification is deterministic and
// performs no I/O.
package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// Options tunes scoring. Zero fields take the defaults noted below.
type Options struct {
	// Floor is the minimum score an intent needs to win (0.3).
	Floor float64
	// LongKeywordWeight is added per matched keyword longer than
	// LongKeywordRunes runes (0.3).
	LongKeywordWeight float64
	// ShortKeywordWeight is added per matched short keyword (0.15).
	ShortKeywordWeight float64
	// PatternWeight is added per matched regular expression (0.85).
	PatternWeight float64
	// LongKeywordRunes is the length threshold between short and long keywords (5).
	LongKeywordRunes int
}

func (o Options) withDefaults() Options {
	if o.Floor <= 0 {
		o.Floor = 0.3
	}
	if o.LongKeywordWeight <= 0 {
		o.LongKeywordWeight = 0.3
	}
	if o.ShortKeywordWeight <= 0 {
		o.ShortKeywordWeight = 0.15
	}
	if o.PatternWeight <= 0 {
		o.PatternWeight = 0.85
	}
	if o.LongKeywordRunes <= 0 {
		o.LongKeywordRunes = 5
	}
	return o
}

// Classifier scores text against an ordered rule set. The rule set can be
// swapped at runtime with Replace; Classify never blocks on a swap.
type Classifier struct {
	opts  Options
	rules atomic.Pointer[[]compiledRule]
}

// New compiles rules and returns a Classifier.
func New(rules []Rule, opts Options) (*Classifier, error) {
	compiled, err := compile(rules)
	if err != nil {
		return nil, err
	}
	c := &Classifier{opts: opts.withDefaults()}
	c.rules.Store(&compiled)
	return c, nil
}

// NewDefault returns a Classifier over DefaultRules.
func NewDefault() *Classifier {
	c, err := New(DefaultRules(), Options{})
	if err != nil {
		panic(fmt.Sprintf("intent: default rules do not compile: %v", err))
	}
	return c
}

// Replace swaps the active rule set. On error the previous rules stay active.
func (c *Classifier) Replace(rules []Rule) error {
	compiled, err := compile(rules)
	if err != nil {
		return err
	}
	c.rules.Store(&compiled)
	return nil
}

// Classify returns the best-scoring intent for text. Keyword hits and
// pattern matches add fixed increments; the highest total wins and the
// earlier rule wins ties. Totals below the floor yield Unknown with
// confidence 0. Confidence is capped at 1.
func (c *Classifier) Classify(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Intent: Unknown}
	}
	lower := strings.ToLower(text)

	best := Result{Intent: Unknown}
	for _, r := range *c.rules.Load() {
		score, trigger := c.score(r, text, lower)
		if score > best.Confidence {
			best = Result{Intent: r.intent, Confidence: score, Trigger: trigger}
		}
	}

	if best.Confidence < c.opts.Floor {
		return Result{Intent: Unknown}
	}
	if best.Confidence > 1 {
		best.Confidence = 1
	}
	return best
}

func (c *Classifier) score(r compiledRule, text, lower string) (float64, string) {
	var score float64
	var keywordTrigger, patternTrigger string
	for _, kw := range r.keywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		if utf8.RuneCountInString(kw) > c.opts.LongKeywordRunes {
			score += c.opts.LongKeywordWeight
		} else {
			score += c.opts.ShortKeywordWeight
		}
		if keywordTrigger == "" {
			keywordTrigger = kw
		}
	}
	for _, re := range r.patterns {
		m := re.FindString(text)
		if m == "" && !re.MatchString(text) {
			continue
		}
		score += c.opts.PatternWeight
		if patternTrigger == "" {
			patternTrigger = strings.TrimSpace(m)
		}
	}
	if patternTrigger != "" {
		return score, patternTrigger
	}
	return score, keywordTrigger
}

var (
	ambiguousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(^|\s)(или|либо)(\s|$)`),
		regexp.MustCompile(`(?i)не знаю|не уверен`),
		regexp.MustCompile(`\?.*\?`),
	}
	urlPattern = regexp.MustCompile(`https?://\S+`)
)

// Clarify turns an ambiguous classification into ClarificationNeeded.
// Chat, unknown and slash-command inputs pass through unchanged.
func (c *Classifier) Clarify(text string, r Result) Result {
	switch r.Intent {
	case Unknown, GeneralChat, ClarificationNeeded:
		return r
	}
	if strings.HasPrefix(strings.TrimSpace(text), "/") {
		return r
	}

	needs := false
	for _, p := range ambiguousPatterns {
		if p.MatchString(text) {
			needs = true
			break
		}
	}
	if r.Intent == MediaAnalysis && !urlPattern.MatchString(text) {
		needs = true
	}
	if !needs {
		return r
	}
	return Result{
		Intent:             ClarificationNeeded,
		Confidence:         0.9,
		Trigger:            r.Trigger,
		Original:           r.Intent,
		OriginalConfidence: r.Confidence,
	}
}

// Option is one choice offered to the user when intent is unclear.
type Option struct {
	Intent      Intent `json:"intent"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

var optionText = map[Intent]Option{
	CommandExecution: {CommandExecution, "Infrastructure", "List apps, databases and deployments"},
	MediaAnalysis:    {MediaAnalysis, "Media analysis", "Analyze a video or image, fetch subtitles and stats"},
	MediaGeneration:  {MediaGeneration, "Image generation", "Create a picture from a description"},
}

// ClarificationOptions lists up to three tool-backed intents whose keywords
// appear in text, best first, followed by a plain-chat option. It returns
// nil when no tool-backed intent is detected.
func (c *Classifier) ClarificationOptions(text string) []Option {
	lower := strings.ToLower(text)
	type scored struct {
		intent Intent
		score  float64
	}
	var hits []scored
	for _, r := range *c.rules.Load() {
		if _, ok := optionText[r.intent]; !ok {
			continue
		}
		s, _ := c.score(r, text, lower)
		if s > 0.1 {
			hits = append(hits, scored{r.intent, s})
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	seen := make(map[Intent]bool)
	var opts []Option
	for _, h := range hits {
		if seen[h.intent] || len(opts) == 3 {
			continue
		}
		seen[h.intent] = true
		opts = append(opts, optionText[h.intent])
	}
	return append(opts, Option{GeneralChat, "Just chat", "Talk without running any tools"})
}
