package command

import (
	"fmt"
	"strings"
)

// Entry describes one supported provider action.
type Entry struct {
	Provider    Provider
	Action      string
	Usage       string
	Description string
	Destructive bool
}

var catalog = []Entry{
	{ProviderDigitalOcean, "list_apps", "/mcp apps list", "List App Platform applications", false},
	{ProviderDigitalOcean, "get_apps", "/mcp apps get <name>", "Show one application", false},
	{ProviderDigitalOcean, "deploy_apps", "/mcp apps deploy <name>", "Start a new deployment", true},
	{ProviderDigitalOcean, "restart_apps", "/mcp apps restart <name>", "Restart an application", true},
	{ProviderContext7, "search", "/docs <query>", "Search library documentation", false},
	{ProviderContext7, "resolve", "/mcp ctx resolve <library>", "Resolve a library id", false},
	{ProviderSupabase, "list_tables", "/db", "List database tables", false},
	{ProviderSupabase, "list_projects", "/mcp db list_projects", "List database projects", false},
	{ProviderSupabase, "query", "/db <sql>", "Run SQL (anything but a read needs confirmation)", false},
	{ProviderOps, "status", "/ops status", "Service status", false},
	{ProviderOps, "logs", "/ops logs [lines]", "Recent service logs", false},
	{ProviderOps, "deploy", "/ops deploy [branch]", "Deploy the latest changes", true},
	{ProviderOps, "restart", "/ops restart", "Restart the service", true},
}

// Lookup returns the catalog entry for cmd.
func Lookup(cmd Command) (Entry, bool) {
	for _, e := range catalog {
		if e.Provider == cmd.Provider && e.Action == cmd.Action {
			return e, true
		}
	}
	return Entry{}, false
}

// Supported reports whether cmd names a known provider action.
func Supported(cmd Command) bool {
	_, ok := Lookup(cmd)
	return ok
}

// Catalog returns a copy of every supported action.
func Catalog() []Entry {
	return append([]Entry(nil), catalog...)
}

var readOnlySQL = []string{"select", "with", "explain", "show", "describe", "\\d"}

// Destructive reports whether running cmd may change external state and
// so needs explicit confirmation. Unknown commands count as destructive.
func Destructive(cmd Command) bool {
	e, ok := Lookup(cmd)
	if !ok {
		return true
	}
	if e.Provider == ProviderSupabase && e.Action == "query" {
		q := strings.ToLower(strings.TrimSpace(cmd.Args))
		for _, prefix := range readOnlySQL {
			if strings.HasPrefix(q, prefix) && !strings.Contains(q, ";") {
				return false
			}
		}
		return true
	}
	return e.Destructive
}

// HelpText lists the supported commands.
func HelpText() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, e := range catalog {
		mark := ""
		if e.Destructive {
			mark = " (asks for confirmation)"
		}
		fmt.Fprintf(&b, "  %-28s %s%s\n", e.Usage, e.Description, mark)
	}
	b.WriteString("\nYou can also ask in plain words, e.g. \"покажи приложения\".")
	return b.String()
}
