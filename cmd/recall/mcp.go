package main

import (
	"os"
	"os/signal"
	"syscall"

	mcpAdapter "github.com/aretw0/recall/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent over the Model Context Protocol",
	Long: `Exposes the chat and get_thread tools and the graph resource to MCP clients.
Uses stdio by default; --sse serves the SSE transport on the given port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		agent, b, err := buildAgent(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		srv := mcpAdapter.NewServer(newSessions(cfg, agent, b, logger),
			mcpAdapter.WithGraph(agent.Graph()),
			mcpAdapter.WithLogger(logger),
		)

		port, _ := cmd.Flags().GetInt("sse")
		if port == 0 {
			return srv.ServeStdio()
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ServeSSE(ctx, port)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().Int("sse", 0, "Serve the SSE transport on this port instead of stdio")
}
