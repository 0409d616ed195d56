package command

import (
	"fmt"
	"strings"
)

// EmulatedLabel prefixes every emulated result text.
const EmulatedLabel = "[emulated]"

// App is an application record as returned by the apps provider.
type App struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Region    string `json:"region"`
	CreatedAt string `json:"created_at"`
}

var demoApps = []App{
	{ID: "demo-app-1", Name: "artem-webhook-bot", Status: "active", Region: "fra1", CreatedAt: "2024-01-15T10:00:00Z"},
	{ID: "demo-app-2", Name: "test-deployment", Status: "inactive", Region: "ams3", CreatedAt: "2024-01-10T15:30:00Z"},
}

var demoTables = []string{"users", "messages", "preferences"}

// Emulate produces a stand-in result for cmd without contacting any
// provider. Read-only actions get sample data; anything else reports that
// nothing was executed.
func Emulate(cmd Command) Result {
	res := Result{Command: cmd, Emulated: true}
	switch {
	case cmd.Provider == ProviderDigitalOcean && cmd.Action == "list_apps":
		res.Data = map[string]any{"apps": append([]App(nil), demoApps...)}
		res.Text = formatApps(demoApps)
	case cmd.Provider == ProviderSupabase && cmd.Action == "list_tables":
		res.Data = map[string]any{"tables": append([]string(nil), demoTables...)}
		res.Text = "Tables:\n• " + strings.Join(demoTables, "\n• ")
	case cmd.Provider == ProviderOps && cmd.Action == "status":
		res.Data = map[string]any{"status": "unknown"}
		res.Text = "Service status is unavailable while the provider is offline."
	default:
		res.Text = fmt.Sprintf("%s is unavailable right now, so %s was not executed.", cmd.Provider, cmd.Action)
	}
	res.Text = EmulatedLabel + " " + res.Text
	return res
}

func formatApps(apps []App) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Applications (%d):", len(apps))
	for _, a := range apps {
		icon := "🟢"
		if a.Status != "active" {
			icon = "⚪"
		}
		fmt.Fprintf(&b, "\n%s %s (%s, %s)", icon, a.Name, a.Region, a.Status)
	}
	return b.String()
}
