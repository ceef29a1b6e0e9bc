package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ble-mcp-test/bridge/pkg/config"
)

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running bridge's observability endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "observability address, host:port (default: 127.0.0.1 and the configured observability port)")
	return cmd
}

func runStatus(addr string) error {
	if addr == "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.ObservabilityPort)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	health, err := fetch(client, fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		fmt.Println("Bridge status: not running (or unreachable)")
		fmt.Printf("  %v\n", err)
		return nil
	}
	fmt.Println("Bridge health:")
	printJSON(health)

	sessions, err := fetch(client, fmt.Sprintf("http://%s/debug/sessions", addr))
	if err == nil {
		fmt.Println("\nSessions:")
		printJSON(sessions)
	}
	return nil
}

func fetch(client *http.Client, url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

func printJSON(raw []byte) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return
	}
	pretty, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Printf("  %s\n", pretty)
}
