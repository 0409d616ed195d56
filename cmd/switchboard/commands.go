package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/switchboard/internal/api"
	"github.com/kalambet/switchboard/internal/command"
	"github.com/kalambet/switchboard/internal/config"
	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/tracing"
)

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a message through the running server",
	Long: `Send a message through the running server and print the reply.

Examples:
  switchboard send --user alice "hello there"
  switchboard send --user admin "/ops status"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		chat, _ := cmd.Flags().GetString("chat")
		if chat == "" {
			chat = user
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		out, err := sendMessage(cmd.Context(), client, api.MessageRequest{
			UserID: user,
			ChatID: chat,
			Text:   strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		printReply(os.Stdout, out)
		return nil
	},
}

func init() {
	sendCmd.Flags().String("user", "cli", "user id to send as")
	sendCmd.Flags().String("chat", "", "chat id (defaults to the user id)")
}

func sendMessage(ctx context.Context, c *apiClient, req api.MessageRequest) (api.MessageResponse, error) {
	resp, err := c.post(ctx, "/v1/messages", req)
	if err != nil {
		return api.MessageResponse{}, err
	}
	var out api.MessageResponse
	if err := decodeJSON(resp, &out); err != nil {
		return api.MessageResponse{}, err
	}
	return out, nil
}

func printReply(w io.Writer, out api.MessageResponse) {
	fmt.Fprintln(w, out.Response.PlainText())
	for _, b := range out.Response.Buttons() {
		fmt.Fprintf(w, "  [%s] %s\n", b.Text, colorize(colorCyan, b.Data))
	}
	if out.Error != "" {
		fmt.Fprintf(w, "%s %s\n", colorize(colorYellow, "error:"), out.Error)
	}
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "trace:"), out.TraceID)
}

// --- traces ---

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Inspect request traces",
}

var tracesShowCmd = &cobra.Command{
	Use:   "show <trace-id>",
	Short: "Show one trace with its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/traces/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var tr tracing.Trace
		if err := decodeJSON(resp, &tr); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, tr)
		}
		printTrace(os.Stdout, tr)
		return nil
	},
}

var tracesUserCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "List a user's recent traces, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/v1/users/%s/traces?limit=%d", url.PathEscape(args[0]), limit)
		return listTraces(cmd.Context(), client, path)
	},
}

var tracesActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "List traces still in flight",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listTraces(cmd.Context(), client, "/v1/traces/active")
	},
}

func init() {
	tracesShowCmd.Flags().Bool("json", false, "print the raw trace JSON")
	tracesUserCmd.Flags().Int("limit", 10, "maximum number of traces")
	tracesCmd.AddCommand(tracesShowCmd)
	tracesCmd.AddCommand(tracesUserCmd)
	tracesCmd.AddCommand(tracesActiveCmd)
}

func listTraces(ctx context.Context, c *apiClient, path string) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	var traces []tracing.Trace
	if err := decodeJSON(resp, &traces); err != nil {
		return err
	}
	if len(traces) == 0 {
		fmt.Println("No traces found.")
		return nil
	}
	for _, tr := range traces {
		fmt.Println(traceLine(tr))
	}
	return nil
}

func traceLine(tr tracing.Trace) string {
	dur := "-"
	if tr.EndTime != nil {
		dur = fmt.Sprintf("%.0fms", tr.DurationMs())
	}
	return fmt.Sprintf("%s  %-11s %-8s %s  %d events",
		colorize(colorCyan, tr.ID),
		colorize(statusColor(tr.Status), string(tr.Status)),
		dur,
		tr.StartTime.Format("2006-01-02 15:04:05"),
		len(tr.Events),
	)
}

func printTrace(w io.Writer, tr tracing.Trace) {
	fmt.Fprintln(w, traceLine(tr))
	fmt.Fprintf(w, "  user %s", tr.UserID)
	if tr.SessionID != "" {
		fmt.Fprintf(w, "  chat %s", tr.SessionID)
	}
	fmt.Fprintln(w)
	for _, e := range tr.Events {
		mark := colorize(colorGreen, "ok")
		if !e.Success {
			mark = colorize(colorRed, "error")
		}
		line := fmt.Sprintf("  %s  %-10s %-12s %s",
			e.Timestamp.Format("15:04:05.000"), e.Component, e.Step, mark)
		if e.DurationMs != nil {
			line += fmt.Sprintf(" %.1fms", *e.DurationMs)
		}
		if e.Error != "" {
			line += " " + e.Error
		}
		fmt.Fprintln(w, line)
	}
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show aggregate request metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		m, err := fetchMetrics(cmd.Context(), client)
		if err != nil {
			return err
		}
		printMetrics(os.Stdout, m)
		return nil
	},
}

func fetchMetrics(ctx context.Context, c *apiClient) (tracing.Metrics, error) {
	resp, err := c.get(ctx, "/v1/traces/metrics")
	if err != nil {
		return tracing.Metrics{}, err
	}
	var m tracing.Metrics
	if err := decodeJSON(resp, &m); err != nil {
		return tracing.Metrics{}, err
	}
	return m, nil
}

func printMetrics(w io.Writer, m tracing.Metrics) {
	fmt.Fprintf(w, "  %s %d (%d ok, %d failed, %.1f%% success)\n",
		colorize(colorBold, "Requests:"), m.Total, m.Successful, m.Failed, m.SuccessRate*100)
	fmt.Fprintf(w, "  %s %d active, %d completed\n", colorize(colorBold, "Traces:"), m.Active, m.Completed)
	fmt.Fprintf(w, "  %s %.1fms\n", colorize(colorBold, "Avg duration:"), m.AvgDurationMs)

	components := make([]string, 0, len(m.PerComponentAvgMs))
	for c := range m.PerComponentAvgMs {
		components = append(components, string(c))
	}
	sort.Strings(components)
	for _, c := range components {
		fmt.Fprintf(w, "    %-12s %.1fms\n", c, m.PerComponentAvgMs[tracing.Component(c)])
	}
}

// --- classify ---

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Classify text offline with the built-in and configured rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rulesPath, _ := cmd.Flags().GetString("rules")
		if rulesPath == "" {
			if cfg, err := config.Load(); err == nil {
				rulesPath = cfg.Intent.RulesPath
			}
		}
		c, err := offlineClassifier(rulesPath)
		if err != nil {
			return err
		}
		printClassification(os.Stdout, c, strings.Join(args, " "))
		return nil
	},
}

func init() {
	classifyCmd.Flags().String("rules", "", "YAML rule file to add to the defaults")
}

func offlineClassifier(rulesPath string) (*intent.Classifier, error) {
	if rulesPath == "" {
		return intent.NewDefault(), nil
	}
	extra, err := intent.LoadRules(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	return intent.New(append(intent.DefaultRules(), extra...), intent.Options{})
}

func printClassification(w io.Writer, c *intent.Classifier, text string) {
	if cmd, err := command.Parse(text); err == nil {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "command:"), cmd)
		return
	}

	r := c.Clarify(text, c.Classify(text))
	fmt.Fprintf(w, "%s %s (%.2f)\n", colorize(colorBold, "intent:"), r.Intent, r.Confidence)
	if r.Trigger != "" {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "matched:"), r.Trigger)
	}
	if r.Original != "" {
		fmt.Fprintf(w, "%s %s (%.2f)\n", colorize(colorBold, "unsure between:"), r.Original, r.OriginalConfidence)
	}
	if cmd, ok := command.ParseNatural(text); ok {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "command:"), cmd)
	}
	if r.Intent == intent.ClarificationNeeded {
		for _, o := range c.ClarificationOptions(text) {
			fmt.Fprintf(w, "  - %s: %s\n", o.Title, o.Description)
		}
	}
}

// --- commands ---

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the infrastructure commands admins can run",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, e := range command.Catalog() {
			usage := e.Usage
			if e.Destructive {
				usage = colorize(colorYellow, usage)
			}
			fmt.Printf("  %-40s %s\n", usage, e.Description)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
