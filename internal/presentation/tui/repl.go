package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
)

// Streamer runs one conversation turn.
type Streamer interface {
	Stream(ctx context.Context, key domain.ConversationKey, question string) iter.Seq2[string, error]
}

// REPL is an interactive chat loop over line-oriented input.
type REPL struct {
	Agent Streamer
	Key   domain.ConversationKey

	// Render, when set, buffers each reply and prints it through the markdown renderer
	// instead of streaming raw fragments.
	Render func(string) (string, error)

	In  io.Reader
	Out io.Writer
}

// Run reads questions until EOF, "exit" or "quit", or until ctx is cancelled.
// "/new" switches to a fresh thread of the same owner.
func (r *REPL) Run(ctx context.Context) error {
	out := termenv.NewOutput(r.Out)
	prompt := out.String("> ").Foreground(out.Color("#a78bfa")).Bold().String()
	scanner := bufio.NewScanner(r.In)

	fmt.Fprintf(r.Out, "Chatting as %s in thread %s. Type 'exit' to quit, '/new' for a new thread.\n", r.Key.OwnerID, r.Key.ThreadID)
	for {
		fmt.Fprint(r.Out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(r.Out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())

		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(r.Out, "Bye!")
			return nil
		case "/new":
			r.Key.ThreadID = uuid.NewString()
			fmt.Fprintf(r.Out, "New thread %s\n", r.Key.ThreadID)
			continue
		}

		if err := r.turn(ctx, input); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			msg := out.String("Error: " + err.Error()).Foreground(out.Color("#fb7185")).String()
			fmt.Fprintln(r.Out, msg)
		}
	}
}

func (r *REPL) turn(ctx context.Context, question string) error {
	var reply strings.Builder
	for fragment, err := range r.Agent.Stream(ctx, r.Key, question) {
		if err != nil {
			if r.Render == nil {
				fmt.Fprintln(r.Out)
			}
			return err
		}
		if r.Render != nil {
			reply.WriteString(fragment)
			continue
		}
		fmt.Fprint(r.Out, fragment)
	}

	if r.Render == nil {
		fmt.Fprintln(r.Out)
		return nil
	}
	rendered, err := r.Render(reply.String())
	if err != nil {
		fmt.Fprintln(r.Out, reply.String())
		return nil
	}
	fmt.Fprint(r.Out, rendered)
	return nil
}
