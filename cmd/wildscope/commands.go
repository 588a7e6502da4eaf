package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wildscope/wildscope/internal/config"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a follow-up question about the analyzed video",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := clientFor(cfg)

		// A follow-up waits on the model; allow it the full analysis timeout.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.AnalysisTimeout)
		defer cancel()

		resp, err := client.post(ctx, "/api/chat", map[string]string{"question": question})
		if err != nil {
			return err
		}
		var out struct {
			Answer string `json:"answer"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Println(out.Answer)
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or clear the server's active session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active session as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := client.get(ctx, "/api/session")
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			printWarning("no active session")
			return nil
		}
		var sess any
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the active session and its stored upload",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := client.delete(ctx, "/api/session")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Session cleared")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage wildscope configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, kv := range config.ShowAll(cfg) {
			printStatus(kv.Key, "%s", kv.Value)
		}
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
	configCmd.AddCommand(configShowCmd)
}
