package main

import (
	"fmt"

	"github.com/aretw0/recall"
	"github.com/aretw0/recall/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the agent graph visualization",
	Long:  `Outputs a Mermaid diagram (graph TD) of the steps and routes the agent executes.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(recall.DefaultGraph(), nil))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
