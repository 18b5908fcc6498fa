package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/obi/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest renewal documents into the retrieval corpus",
	Long: `Ingest a directory of renewal documents (.txt, .md, .pdf) into the
retrieval corpus.

Example:
  obi ingest --dir ./documents`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			return fmt.Errorf("--dir is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/ingest", map[string]string{"dir": dir})
		if err != nil {
			return err
		}

		var result struct {
			Files  int `json:"files"`
			Chunks int `json:"chunks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Ingested %d files (%d chunks)", result.Files, result.Chunks)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("dir", "", "directory of documents to ingest")
}

// --- profiles ---

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List loaded citizen profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/profiles")
		if err != nil {
			return err
		}

		var profiles []struct {
			ID       string `json:"id"`
			FullName string `json:"full_name"`
			License  string `json:"license_type"`
		}
		if err := decodeJSON(resp, &profiles); err != nil {
			return err
		}

		if len(profiles) == 0 {
			fmt.Println("No profiles loaded.")
			return nil
		}
		for _, p := range profiles {
			line := fmt.Sprintf("%s  %s", colorize(colorCyan, p.ID), p.FullName)
			if p.License != "" {
				line += fmt.Sprintf("  (%s)", p.License)
			}
			fmt.Println(line)
		}
		return nil
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <profile-id>",
	Short: "Start an interactive renewal conversation for a citizen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profileID := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		threadID := uuid.NewString()
		fmt.Fprintf(os.Stderr, "thread: %s\n\n", threadID)

		// Invisible opener so the assistant greets first.
		greeting, ok, err := sendMessage(cmd, client, threadID, profileID, "Hello?", false)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("%s %s\n\n", colorize(colorBold, "obi:"), greeting)
		}

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print(colorize(colorBold, "you: "))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				fmt.Print(colorize(colorBold, "you: "))
				continue
			}
			if line == "/quit" || line == "/exit" {
				break
			}

			reply, _, err := sendMessage(cmd, client, threadID, profileID, line, true)
			if err != nil {
				return err
			}
			fmt.Printf("\n%s %s\n\n", colorize(colorBold, "obi:"), reply)
			fmt.Print(colorize(colorBold, "you: "))
		}
		return scanner.Err()
	},
}

func sendMessage(cmd *cobra.Command, client *apiClient, threadID, profileID, message string, visible bool) (string, bool, error) {
	resp, err := client.post(cmd.Context(),
		"/v1/conversations/"+threadID+"/messages",
		map[string]any{
			"message":    message,
			"profile_id": profileID,
			"visible":    visible,
		},
	)
	if err != nil {
		return "", false, err
	}

	var result struct {
		Response string `json:"response"`
		Success  bool   `json:"success"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", false, err
	}
	return result.Response, result.Success, nil
}

// --- level ---

var levelCmd = &cobra.Command{
	Use:   "level [value]",
	Short: "Show or set the differentiation level (0-100)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), "/v1/differentiation-level")
			if err != nil {
				return err
			}
			var result struct {
				Level float64 `json:"level"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			fmt.Printf("%g\n", result.Level)
			return nil
		}

		level, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("level must be a number: %w", err)
		}

		resp, err := client.put(cmd.Context(), "/v1/differentiation-level", map[string]float64{"level": level})
		if err != nil {
			return err
		}
		var result struct {
			Level float64 `json:"level"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Differentiation level set to %g", result.Level)
		return nil
	},
}

// --- casefile ---

var casefileCmd = &cobra.Command{
	Use:   "casefile <thread-id>",
	Short: "Show the calibration snapshot for a live conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/conversations/"+args[0]+"/casefile")
		if err != nil {
			return err
		}

		var result struct {
			CaseFile string `json:"casefile"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Println(result.CaseFile)
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
