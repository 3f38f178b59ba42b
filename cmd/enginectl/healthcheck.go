package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var healthcheckURL string

func newHealthcheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running engine instance and print its status",
		Args:  cobra.NoArgs,
		RunE:  runHealthcheck,
	}
	cmd.Flags().StringVar(&healthcheckURL, "url", "http://localhost:8080/healthz", "health endpoint to probe")
	return cmd
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	start := time.Now()
	resp, err := client.Get(healthcheckURL)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("FIELD"),
		text.FgHiCyan.Sprint("VALUE"),
	})

	if err != nil {
		t.AppendRow(table.Row{"status", text.FgRed.Sprint("unreachable")})
		t.AppendRow(table.Row{"error", err.Error()})
		t.Render()
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	defer resp.Body.Close()

	status := text.FgGreen.Sprint("ok")
	if resp.StatusCode != http.StatusOK {
		status = text.FgRed.Sprintf("http %d", resp.StatusCode)
	}
	t.AppendRow(table.Row{"status", status})
	t.AppendRow(table.Row{"latency", time.Since(start).String()})
	t.AppendRow(table.Row{"url", healthcheckURL})
	t.Render()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine reported unhealthy status: %d", resp.StatusCode)
	}
	return nil
}
