package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/vinq/internal/api"
	"github.com/kalambet/vinq/internal/config"
	"github.com/kalambet/vinq/internal/model"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the prediction tools over MCP on stdio",
	Long: `Serve the prediction tools over the Model Context Protocol on stdio.

Logs go to stderr (and log.file when set) so stdout stays reserved for the
protocol. Predictions made through MCP share the configured data directory
and appear in the prediction history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, closer := setupLogging(cfg)
		defer closer.Close()

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		logger.Info("serving MCP on stdio", "model", cfg.Model.Path)
		return server.ServeStdio(api.NewMCPServer(a.mcpDeps()))
	},
}

// convertArtifact round-trips an artifact through the decoder so the output
// is validated and normalized. Compression follows the output extension.
func convertArtifact(in, out string) error {
	p, err := model.Load(in)
	if err != nil {
		return err
	}
	if err := model.Save(out, p); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	info, err := os.Stat(out)
	if err != nil {
		return err
	}
	printSuccess("Wrote %s (%d bytes, steps %v)", out, info.Size(), p.StepNames())
	return nil
}
