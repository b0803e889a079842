package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailpilot/mailpilot/internal/config"
)

// ruleView mirrors the API's rule JSON.
type ruleView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Conditions []struct {
		Field    string `json:"field"`
		Operator string `json:"operator"`
		Value    string `json:"value"`
	} `json:"conditions"`
	ReplyInstructions string `json:"replyInstructions"`
	CreatedAt         string `json:"createdAt"`
}

// --- rules ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage auto-reply rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/rules")
		if err != nil {
			return err
		}

		var rs []ruleView
		if err := decodeJSON(resp, &rs); err != nil {
			return err
		}

		if len(rs) == 0 {
			fmt.Println("No rules defined.")
			return nil
		}

		for _, r := range rs {
			state := colorize(colorGreen, "enabled")
			if !r.Enabled {
				state = colorize(colorYellow, "disabled")
			}
			fmt.Printf("%s  %s  [%s]\n", colorize(colorCyan, r.ID[:8]), colorize(colorBold, r.Name), state)
			for _, c := range r.Conditions {
				fmt.Printf("    when %s %s %q\n", c.Field, c.Operator, c.Value)
			}
			instructions := r.ReplyInstructions
			if len(instructions) > 80 {
				instructions = instructions[:80] + "..."
			}
			fmt.Printf("    reply: %s\n", instructions)
		}
		return nil
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new rule",
	Long: `Add a new auto-reply rule.

Conditions use the form field:operator:value, where field is one of
from, subject, body and operator is one of contains, equals, startswith,
regex. All conditions must match for the rule to fire.

Examples:
  mailpilot rules add --name "Support" --condition subject:contains:support --reply "Acknowledge and promise a response within 24h"
  mailpilot rules add --name "Newsletter bounce" --condition from:regex:"@(news|updates)\." --reply "Politely ask to be unsubscribed" --disabled`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		conditions, _ := cmd.Flags().GetStringArray("condition")
		reply, _ := cmd.Flags().GetString("reply")
		disabled, _ := cmd.Flags().GetBool("disabled")

		if name == "" {
			return fmt.Errorf("--name is required")
		}
		if len(conditions) == 0 {
			return fmt.Errorf("at least one --condition is required")
		}
		if reply == "" {
			return fmt.Errorf("--reply is required")
		}

		conds := make([]map[string]string, 0, len(conditions))
		for _, raw := range conditions {
			parts := strings.SplitN(raw, ":", 3)
			if len(parts) != 3 {
				return fmt.Errorf("invalid condition %q, want field:operator:value", raw)
			}
			conds = append(conds, map[string]string{
				"field":    parts[0],
				"operator": parts[1],
				"value":    parts[2],
			})
		}

		req := map[string]any{
			"name":              name,
			"enabled":           !disabled,
			"conditions":        conds,
			"replyInstructions": reply,
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/rules", req)
		if err != nil {
			return err
		}

		var created ruleView
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Created rule %s (%s)", created.Name, created.ID[:8])
		return nil
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(cmd.Context(), args[0], true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(cmd.Context(), args[0], false)
	},
}

// setRuleEnabled toggles a rule via read-modify-write against the API.
// Accepts an ID prefix so users can paste the short form from `rules list`.
func setRuleEnabled(ctx context.Context, id string, enabled bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/rules")
	if err != nil {
		return err
	}
	var rs []json.RawMessage
	if err := decodeJSON(resp, &rs); err != nil {
		return err
	}

	for _, raw := range rs {
		var full map[string]any
		if err := json.Unmarshal(raw, &full); err != nil {
			continue
		}
		fullID, _ := full["id"].(string)
		if !strings.HasPrefix(fullID, id) {
			continue
		}
		full["enabled"] = enabled
		updateResp, err := client.put(ctx, "/rules/"+fullID, full)
		if err != nil {
			return err
		}
		var updated ruleView
		if err := decodeJSON(updateResp, &updated); err != nil {
			return err
		}
		if enabled {
			printSuccess("Enabled rule %s", updated.Name)
		} else {
			printSuccess("Disabled rule %s", updated.Name)
		}
		return nil
	}
	return fmt.Errorf("no rule with ID %q", id)
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/rules/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted rule %s", args[0])
		return nil
	},
}

func init() {
	rulesAddCmd.Flags().String("name", "", "rule name")
	rulesAddCmd.Flags().StringArray("condition", nil, "condition as field:operator:value (repeatable)")
	rulesAddCmd.Flags().String("reply", "", "instructions for generating the reply")
	rulesAddCmd.Flags().Bool("disabled", false, "create the rule disabled")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesEnableCmd)
	rulesCmd.AddCommand(rulesDisableCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)
}

// --- logs ---

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the reply log (newest first)",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/logs")
		if err != nil {
			return err
		}

		var entries []struct {
			Timestamp    string `json:"timestamp"`
			EmailFrom    string `json:"emailFrom"`
			EmailSubject string `json:"emailSubject"`
			RuleName     string `json:"ruleName"`
			Status       string `json:"status"`
			Error        string `json:"error"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No log entries.")
			return nil
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}

		for _, e := range entries {
			status := colorize(colorGreen, e.Status)
			if e.Status != "sent" {
				status = colorize(colorRed, e.Status)
			}
			fmt.Printf("%s  %s  %s  %s", e.Timestamp, status, e.EmailFrom, e.EmailSubject)
			if e.Status == "sent" {
				fmt.Printf("  (rule: %s)", e.RuleName)
			} else if e.Error != "" {
				fmt.Printf("  %s", e.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().IntP("limit", "n", 20, "maximum number of entries to show")
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process unread mail now",
	RunE: func(cmd *cobra.Command, args []string) error {
		diagnostics, _ := cmd.Flags().GetBool("diagnostics")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/process"
		if diagnostics {
			path += "?diagnostics=1"
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result struct {
			Message   string `json:"message"`
			Processed int    `json:"processed"`
			Inspected []struct {
				From        string `json:"from"`
				Subject     string `json:"subject"`
				SelfSkipped bool   `json:"selfSkipped"`
				MatchedRule string `json:"matchedRule"`
			} `json:"inspected"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Processed %d message(s)", result.Processed)
		for _, msg := range result.Inspected {
			switch {
			case msg.SelfSkipped:
				fmt.Printf("  %s  %s  skipped (own mail)\n", msg.From, msg.Subject)
			case msg.MatchedRule != "":
				fmt.Printf("  %s  %s  matched %q\n", msg.From, msg.Subject, msg.MatchedRule)
			default:
				fmt.Printf("  %s  %s  no match\n", msg.From, msg.Subject)
			}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("diagnostics", false, "report per-message match decisions")
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
		// Load returns a partial config alongside the error; still show it
		// so the user can see which keys are missing.
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
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
	Long: fmt.Sprintf(`Set a configuration value.

Valid keys:
  %s

Secrets (API keys, tokens) cannot be set here; provide them via
environment variables or the secrets file.`, strings.Join(config.ValidKeys(), "\n  ")),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(config.NewBackend(), key, value); err != nil {
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
