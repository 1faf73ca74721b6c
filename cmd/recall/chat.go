package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/aretw0/recall/internal/presentation/tui"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Chat with the agent in the terminal",
	Long: `Starts an interactive chat. With a question argument, answers it once and exits.
The thread persists in the configured store, so --thread resumes an earlier conversation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		key := domain.ConversationKey{}
		key.OwnerID, _ = cmd.Flags().GetString("user")
		key.ThreadID, _ = cmd.Flags().GetString("thread")
		if key.ThreadID == "" {
			key.ThreadID = uuid.NewString()
		}
		if err := key.Validate(); err != nil {
			return err
		}

		agent, b, err := buildAgent(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()
		sessions := newSessions(cfg, agent, b, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		if len(args) > 0 {
			return answerOnce(ctx, sessions, key, strings.Join(args, " "), out)
		}

		repl := &tui.REPL{Agent: sessions, Key: key, In: cmd.InOrStdin(), Out: out}
		if tui.IsTerminal(os.Stdout) {
			if banner, _ := cmd.Flags().GetBool("banner"); banner {
				tui.PrintBanner(out)
			}
			if markdown, _ := cmd.Flags().GetBool("markdown"); markdown {
				render, err := tui.NewRenderer(0)
				if err != nil {
					return fmt.Errorf("markdown renderer: %w", err)
				}
				repl.Render = render
			}
		}
		return repl.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("user", "u", defaultUser(), "Owner of the conversation and its memories")
	chatCmd.Flags().StringP("thread", "t", "", "Thread to resume (default: a new thread)")
	chatCmd.Flags().Bool("markdown", false, "Render each reply as markdown once it completes instead of streaming")
	chatCmd.Flags().Bool("banner", true, "Print the banner on interactive terminals")
}

func answerOnce(ctx context.Context, agent tui.Streamer, key domain.ConversationKey, question string, out io.Writer) error {
	for fragment, err := range agent.Stream(ctx, key, question) {
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		fmt.Fprint(out, fragment)
	}
	fmt.Fprintln(out)
	return nil
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
