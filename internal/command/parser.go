// Package command parses slash commands and natural-language requests into
// provider actions and dispatches them to an execution provider.
package command

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrNotACommand is returned by Parse for text that is not a recognized
// command.
var ErrNotACommand = errors.New("not a command")

// Provider names an external execution provider.
type Provider string

const (
	ProviderDigitalOcean Provider = "digitalocean"
	ProviderContext7     Provider = "context7"
	ProviderSupabase     Provider = "supabase"
	ProviderOps          Provider = "ops"
)

// Command is a parsed request for a provider action. Args is the raw
// remainder of the text; it is not validated here.
type Command struct {
	Provider Provider `json:"provider"`
	Action   string   `json:"action"`
	Args     string   `json:"args,omitempty"`
	Raw      string   `json:"raw"`
}

// ToolName is the provider-side tool identifier, e.g. "digitalocean__list_apps".
func (c Command) ToolName() string {
	return string(c.Provider) + "__" + c.Action
}

func (c Command) String() string {
	if c.Args == "" {
		return fmt.Sprintf("%s/%s", c.Provider, c.Action)
	}
	return fmt.Sprintf("%s/%s %q", c.Provider, c.Action, c.Args)
}

var providerAliases = map[string]Provider{
	"apps":         ProviderDigitalOcean,
	"app":          ProviderDigitalOcean,
	"do":           ProviderDigitalOcean,
	"digitalocean": ProviderDigitalOcean,
	"context":      ProviderContext7,
	"context7":     ProviderContext7,
	"ctx":          ProviderContext7,
	"db":           ProviderSupabase,
	"supabase":     ProviderSupabase,
}

var opsVerbs = map[string]string{
	"deploy":      "deploy",
	"деплой":      "deploy",
	"задеплой":    "deploy",
	"обнови":      "deploy",
	"update":      "deploy",
	"status":      "status",
	"статус":      "status",
	"проверь":     "status",
	"check":       "status",
	"logs":        "logs",
	"log":         "logs",
	"логи":        "logs",
	"restart":     "restart",
	"перезапуск":  "restart",
	"перезапусти": "restart",
	"рестарт":     "restart",
}

// Parse reads "/verb ..." text. Recognized verbs:
//
//	/mcp <provider> <action> [args]
//	/db [sql]
//	/docs <query>
//	/ops <verb> [args]
//
// Everything else returns ErrNotACommand.
func Parse(text string) (Command, error) {
	raw := strings.TrimSpace(text)
	if !strings.HasPrefix(raw, "/") {
		return Command{}, ErrNotACommand
	}
	head, rest := cut(raw[1:])
	verb := strings.ToLower(head)
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i] // "/mcp@somebot"
	}

	cmd := Command{Raw: raw}
	switch verb {
	case "mcp":
		hint, rest := cut(rest)
		action, args := cut(rest)
		hint, action = strings.ToLower(hint), strings.ToLower(action)
		p, ok := providerAliases[hint]
		if !ok {
			p = Provider(hint)
		}
		if action == "" && hint != "" {
			action = "list"
		}
		if p == ProviderDigitalOcean && action != "" && !strings.HasSuffix(action, "apps") {
			action += "_apps"
		}
		cmd.Provider, cmd.Action, cmd.Args = p, action, args

	case "db":
		cmd.Provider = ProviderSupabase
		if rest == "" {
			cmd.Action = "list_tables"
		} else {
			cmd.Action, cmd.Args = "query", rest
		}

	case "docs":
		cmd.Provider, cmd.Action, cmd.Args = ProviderContext7, "search", rest

	case "ops":
		v, args := cut(rest)
		v = strings.ToLower(v)
		if canon, ok := opsVerbs[v]; ok {
			v = canon
		}
		cmd.Provider, cmd.Action, cmd.Args = ProviderOps, v, args

	default:
		return Command{}, ErrNotACommand
	}
	return cmd, nil
}

// cut splits off the first whitespace-delimited token.
func cut(s string) (head, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

type naturalRule struct {
	subjects []string
	verbs    []string
	provider Provider
	action   string
}

// Checked in order; the first rule with a subject and a verb hit wins.
var naturalRules = []naturalRule{
	{
		subjects: []string{"приложени", "apps", "апп", "application"},
		verbs:    []string{"покажи", "список", "list", "show", "какие"},
		provider: ProviderDigitalOcean, action: "list_apps",
	},
	{
		subjects: []string{"базы данных", "баз данных", "database", "таблиц", "tables"},
		verbs:    []string{"покажи", "список", "list", "show", "какие"},
		provider: ProviderSupabase, action: "list_tables",
	},
	{
		subjects: []string{"деплой", "deploy", "приложени", "бот", "bot"},
		verbs:    []string{"статус", "status", "проверь", "состояние"},
		provider: ProviderOps, action: "status",
	},
	{
		subjects: []string{"логи", "logs"},
		verbs:    []string{"покажи", "show", "дай", "get"},
		provider: ProviderOps, action: "logs",
	},
	{
		subjects: []string{"бот", "bot", "сервис", "service", "приложени"},
		verbs:    []string{"перезапусти", "restart", "рестартни"},
		provider: ProviderOps, action: "restart",
	},
	{
		subjects: []string{"бот", "bot", "сервис", "service", "приложени", "изменения", "changes"},
		verbs:    []string{"задеплой", "deploy", "обнови", "выкати"},
		provider: ProviderOps, action: "deploy",
	},
}

// ParseNatural maps a free-text request such as "покажи приложения" to a
// command. ok is false when nothing matches.
func ParseNatural(text string) (cmd Command, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Command{}, false
	}
	for _, r := range naturalRules {
		if containsAny(lower, r.subjects) && containsAny(lower, r.verbs) {
			return Command{Provider: r.provider, Action: r.action, Raw: strings.TrimSpace(text)}, true
		}
	}
	return Command{}, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
