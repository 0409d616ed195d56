package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	case kList:
		return "list"
	default:
		return "string"
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SWITCHBOARD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "SWITCHBOARD_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SWITCHBOARD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "SWITCHBOARD_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.model", typ: kString, env: "SWITCHBOARD_PROXY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.Model },
	},
	{
		key: "log.level", typ: kString, env: "SWITCHBOARD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "intent.rules_path", typ: kString, env: "SWITCHBOARD_INTENT_RULES_PATH",
		apply:   func(cfg *Config, v any) { cfg.Intent.RulesPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Intent.RulesPath },
	},
	{
		key: "confirm.timeout", typ: kDuration, env: "SWITCHBOARD_CONFIRM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Confirm.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Confirm.Timeout },
	},
	{
		key: "confirm.always_confirm", typ: kBool, env: "SWITCHBOARD_CONFIRM_ALWAYS",
		apply:   func(cfg *Config, v any) { cfg.Confirm.AlwaysConfirm = v.(bool) },
		extract: func(cfg Config) any { return cfg.Confirm.AlwaysConfirm },
	},
	{
		key: "confirm.auto_execute_threshold", typ: kFloat, env: "SWITCHBOARD_CONFIRM_AUTO_EXECUTE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Confirm.AutoExecuteThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Confirm.AutoExecuteThreshold },
	},
	{
		key: "tracing.max_traces", typ: kInt, env: "SWITCHBOARD_TRACING_MAX_TRACES",
		apply:   func(cfg *Config, v any) { cfg.Tracing.MaxTraces = v.(int) },
		extract: func(cfg Config) any { return cfg.Tracing.MaxTraces },
	},
	{
		key: "tracing.ttl", typ: kDuration, env: "SWITCHBOARD_TRACING_TTL",
		apply:   func(cfg *Config, v any) { cfg.Tracing.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tracing.TTL },
	},
	{
		key: "preference.min_uses", typ: kInt, env: "SWITCHBOARD_PREFERENCE_MIN_USES",
		apply:   func(cfg *Config, v any) { cfg.Preference.MinUses = v.(int) },
		extract: func(cfg Config) any { return cfg.Preference.MinUses },
	},
	{
		key: "preference.min_success_rate", typ: kFloat, env: "SWITCHBOARD_PREFERENCE_MIN_SUCCESS_RATE",
		apply:   func(cfg *Config, v any) { cfg.Preference.MinSuccessRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Preference.MinSuccessRate },
	},
	{
		key: "preference.ttl", typ: kDuration, env: "SWITCHBOARD_PREFERENCE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Preference.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Preference.TTL },
	},
	{
		key: "access.admin_ids", typ: kList, env: "SWITCHBOARD_ADMIN_IDS",
		apply:   func(cfg *Config, v any) { cfg.Access.AdminIDs = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Access.AdminIDs, ",") },
	},
	{
		key: "commands.mcp_url", typ: kString, env: "SWITCHBOARD_COMMANDS_MCP_URL",
		apply:   func(cfg *Config, v any) { cfg.Commands.MCPURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Commands.MCPURL },
	},
	{
		key: "pipeline.request_timeout", typ: kDuration, env: "SWITCHBOARD_PIPELINE_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.RequestTimeout },
	},
	{
		key: "maintenance.interval", typ: kDuration, env: "SWITCHBOARD_MAINTENANCE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Maintenance.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Maintenance.Interval },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text to the Go type a spec's apply expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
