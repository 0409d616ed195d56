package intent

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule lists the keywords and regular expressions that vote for one intent.
// Rules are evaluated in order; on equal scores the earlier rule wins.
type Rule struct {
	Intent   Intent   `yaml:"intent"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`
}

// RuleFile is the on-disk YAML layout read by LoadRules.
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	intent   Intent
	keywords []string
	patterns []*regexp.Regexp
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	const infra = `(приложен|app|база|базы|данн|database|db|деплой|deploy)`
	return []Rule{
		{
			Intent:   CommandExecution,
			Keywords: []string{"приложени", "деплой", "deployment", "database", "инфраструктур", "сервер", "логи", "logs"},
			Patterns: []string{
				`(покажи|показать|список|list|get|получить).*` + infra,
				`(какие|что за|проверь).*` + infra,
				`(статус|состояние|status).*` + infra,
				`(покажи|show|дай|get).*(логи|logs)`,
				`(статус|состояние|status|проверь).*(бот|bot|сервис|service)`,
				`(перезапусти|рестартни|restart).*(бот|bot|сервис|service|приложени|app)`,
				`^\s*/(mcp|db|docs|ops)\b`,
				`выполни.*(mcp|команду)`,
			},
		},
		{
			Intent:   MediaAnalysis,
			Keywords: []string{"youtube", "ютуб", "видео", "video", "субтитры", "subtitles", "транскрипц"},
			Patterns: []string{
				`youtube\.com/watch\?v=`,
				`youtu\.be/`,
				`(проанализируй|анализ|посмотри|изучи|analy[sz]e).*(youtube|ютуб|видео|video|фото|изображени|image)`,
				`(субтитры|subtitles|транскрипц).*(видео|youtube|video)`,
			},
		},
		{
			Intent:   MediaGeneration,
			Keywords: []string{"нарисуй", "сгенерируй", "картинк", "draw", "generate"},
			Patterns: []string{
				`(нарисуй|сгенерируй|создай|draw|generate|create).*(картинк|изображени|image|picture|рисунок|фото)`,
			},
		},
		{
			Intent:   GeneralQuestion,
			Keywords: []string{"объясни", "расскажи", "explain", "почему"},
			Patterns: []string{
				`\?\s*$`,
				`^\s*(что|как|почему|зачем|когда|где|кто|what|why|how|when|where|who)(\s|$)`,
			},
		},
		{
			Intent:   GeneralChat,
			Keywords: []string{"привет", "спасибо", "hello", "thanks"},
			Patterns: []string{
				`^\s*(привет|здравствуй|добрый (день|вечер|утро)|hi|hello|hey|спасибо|thanks)([\s!,.)]|$)`,
			},
		},
	}
}

// LoadRules reads a YAML rule file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
	}
	if _, err := compile(f.Rules); err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return f.Rules, nil
}

func compile(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if _, err := Parse(string(r.Intent)); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if r.Intent == Unknown || r.Intent == ClarificationNeeded {
			return nil, fmt.Errorf("rule %d: intent %q cannot be matched by rules", i, r.Intent)
		}
		cr := compiledRule{intent: r.Intent}
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				cr.keywords = append(cr.keywords, kw)
			}
		}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return nil, fmt.Errorf("rule %d pattern %q: %w", i, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		out = append(out, cr)
	}
	return out, nil
}
