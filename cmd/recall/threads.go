package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage persisted conversation threads",
	Long:  `List, inspect, and remove the checkpoints stored by the configured backend.`,
}

var threadsLsCmd = &cobra.Command{
	Use:   "ls [owner]",
	Short: "List stored threads, optionally of one owner",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner := ""
		if len(args) == 1 {
			owner = args[0]
		}
		return withLister(cmd, func(ctx context.Context, _ ports.CheckpointStore, lister ports.CheckpointLister) error {
			keys, err := lister.List(ctx, owner)
			if err != nil {
				return fmt.Errorf("list threads: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No threads found.")
				return nil
			}
			fmt.Fprintln(out, "Threads:")
			for _, k := range keys {
				fmt.Fprintln(out, "- "+k.String())
			}
			return nil
		})
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <owner/thread>",
	Short: "Print the checkpoint of a thread as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		return withLister(cmd, func(ctx context.Context, store ports.CheckpointStore, _ ports.CheckpointLister) error {
			cp, err := store.Load(ctx, key)
			if err != nil {
				return fmt.Errorf("load thread %s: %w", key, err)
			}
			if cp == nil || cp.Version == 0 {
				return fmt.Errorf("thread %s not found", key)
			}
			data, err := json.MarshalIndent(cp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		})
	},
}

var threadsRmCmd = &cobra.Command{
	Use:   "rm <owner/thread>...",
	Short: "Remove one or more threads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLister(cmd, func(ctx context.Context, _ ports.CheckpointStore, lister ports.CheckpointLister) error {
			var errs []error
			for _, arg := range args {
				key, err := parseKey(arg)
				if err == nil {
					err = lister.Delete(ctx, key)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("remove %s: %w", arg, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", key)
			}
			return errors.Join(errs...)
		})
	},
}

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.AddCommand(threadsLsCmd)
	threadsCmd.AddCommand(threadsShowCmd)
	threadsCmd.AddCommand(threadsRmCmd)
}

// parseKey parses "owner/thread".
func parseKey(s string) (domain.ConversationKey, error) {
	owner, thread, ok := strings.Cut(s, "/")
	key := domain.ConversationKey{OwnerID: owner, ThreadID: thread}
	if !ok {
		return key, fmt.Errorf("%w: expected owner/thread, got %q", domain.ErrInvalidKey, s)
	}
	return key, key.Validate()
}

// withLister opens only the configured checkpoint store; no model is needed to administer threads.
func withLister(cmd *cobra.Command, fn func(context.Context, ports.CheckpointStore, ports.CheckpointLister) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Lock.Distributed = false
	b, err := openBackends(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	lister, ok := b.store.(ports.CheckpointLister)
	if !ok {
		return fmt.Errorf("the %s backend does not support listing threads", cfg.Store.Backend)
	}
	return fn(cmd.Context(), b.store, lister)
}
