package preference

import (
	"context"
	"time"

	"github.com/kalambet/switchboard/internal/intent"
)

// Pattern is the learned tally for one tool under a (user, intent) key.
// Successes never exceeds Uses.
type Pattern struct {
	UserID     string        `json:"user_id"`
	Intent     intent.Intent `json:"intent"`
	ToolID     string        `json:"tool_id"`
	Uses       int           `json:"uses"`
	Successes  int           `json:"successes"`
	LastUsedAt time.Time     `json:"last_used_at"`
}

// SuccessRate returns Successes/Uses, or 0 for an unused pattern.
func (p Pattern) SuccessRate() float64 {
	if p.Uses == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Uses)
}

func (p Pattern) valid() bool {
	return p.UserID != "" && p.ToolID != "" && p.Uses >= 0 && p.Successes >= 0 && p.Successes <= p.Uses
}

// Statistics summarizes one user's learned preferences.
type Statistics struct {
	TotalPatterns int         `json:"total_patterns"`
	TotalChoices  int         `json:"total_choices"`
	SuccessRate   float64     `json:"success_rate"`
	TopTools      []ToolUsage `json:"top_tools"`
}

// ToolUsage aggregates a tool's tallies across intents.
type ToolUsage struct {
	ToolID      string  `json:"tool_id"`
	Uses        int     `json:"uses"`
	SuccessRate float64 `json:"success_rate"`
}

// Persistence loads and saves preference snapshots.
// Implemented by storage.Store.
type Persistence interface {
	LoadPreferences(ctx context.Context) ([]Pattern, error)
	SavePreferences(ctx context.Context, patterns []Pattern) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
