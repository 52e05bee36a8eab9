package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/scout/internal/config"
	"github.com/kalambet/scout/internal/pipeline"
	"github.com/kalambet/scout/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the agent a question",
	Long: `Ask the agent a question. It classifies the intent, consults trusted
sources when the answer needs fresh data, and replies conversationally.

Examples:
  scout ask who is the quarterback for the Giants
  scout ask what is the price of bitcoin
  scout ask --conversation 7f3a remember that my sister lives in Oslo`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		conversationID, _ := cmd.Flags().GetString("conversation")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"text": text}
		if conversationID != "" {
			req["conversation_id"] = conversationID
		}

		resp, err := client.post(cmd.Context(), "/v1/query", req)
		if err != nil {
			return err
		}

		var reply pipeline.Reply
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}

		fmt.Println(reply.Text)
		if reply.Source != "" {
			printStep("source: %s (confidence %.2f)", reply.Source, reply.Confidence)
		}
		if reply.Warning != "" {
			printWarning("%s", reply.Warning)
		}
		printStep("conversation: %s", reply.ConversationID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("conversation", "", "conversation id to continue")
}

// --- policies ---

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Inspect or teach retrieval policies",
}

var policiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List retrieval policies as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/policies")
		if err != nil {
			return err
		}

		var policies []any
		if err := decodeJSON(resp, &policies); err != nil {
			return err
		}

		if len(policies) == 0 {
			fmt.Println("No policies learned or taught yet.")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(policies)
	},
}

var policiesSetCmd = &cobra.Command{
	Use:   "set <pattern>",
	Short: "Teach a retrieval policy for topics matching a pattern",
	Long: `Teach a retrieval policy. The pattern is a topic substring or a domain
name (sports, news, finance, weather, bestseller).

Examples:
  scout policies set bitcoin --prefer coingecko --require-numeric
  scout policies set sports --avoid reddit
  scout policies set weather --avoid-cache`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefer, _ := cmd.Flags().GetStringSlice("prefer")
		avoid, _ := cmd.Flags().GetStringSlice("avoid")
		requireNumeric, _ := cmd.Flags().GetBool("require-numeric")
		avoidCache, _ := cmd.Flags().GetBool("avoid-cache")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"pattern": args[0],
			"rules": storage.PolicyRules{
				PreferSource:   prefer,
				AvoidSource:    avoid,
				RequireNumeric: requireNumeric,
				AvoidCache:     avoidCache,
			},
		}

		resp, err := client.put(cmd.Context(), "/v1/policies", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Policy stored for %q", args[0])
		return nil
	},
}

func init() {
	policiesSetCmd.Flags().StringSlice("prefer", nil, "source ids to consult first")
	policiesSetCmd.Flags().StringSlice("avoid", nil, "source ids to never consult")
	policiesSetCmd.Flags().Bool("require-numeric", false, "only accept results containing numbers")
	policiesSetCmd.Flags().Bool("avoid-cache", false, "always fetch fresh for matching topics")
	policiesCmd.AddCommand(policiesListCmd)
	policiesCmd.AddCommand(policiesSetCmd)
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Show the feedback summary and per-source success rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/feedback/summary")
		if err != nil {
			return err
		}

		var summary struct {
			TotalEvents int            `json:"total_events"`
			ByType      map[string]int `json:"by_type"`
			BySeverity  map[string]int `json:"by_severity"`
			ToolStats   []struct {
				Tool        string  `json:"tool"`
				Total       int     `json:"total"`
				SuccessRate float64 `json:"success_rate"`
			} `json:"tool_stats"`
		}
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printStatus("Feedback events", "%d", summary.TotalEvents)
		for typ, n := range summary.ByType {
			printStatus("  "+typ, "%d", n)
		}
		for _, ts := range summary.ToolStats {
			printStatus(ts.Tool, "%d attempts, %.0f%% ok", ts.Total, ts.SuccessRate*100)
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
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
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
