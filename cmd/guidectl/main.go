package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/loqa-guide/internal/config"
	"github.com/loqalabs/loqa-guide/internal/pipeline"
	"github.com/loqalabs/loqa-guide/internal/runtime"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "guidectl",
		Short:         "Operate a loqa-guide deployment from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("GUIDE_CONFIG"), "Path to configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config valid")
			return nil
		},
	})

	var sessionID string
	ask := &cobra.Command{
		Use:   "ask <text>",
		Short: "Run one conversation turn and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, configPath, func(ctx context.Context, comps *runtime.Components) error {
				res, err := comps.Pipeline.Run(ctx, pipeline.Request{
					Text:      strings.Join(args, " "),
					SessionID: sessionID,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"status":      true,
					"sessionId":   res.SessionID,
					"fileCode":    res.FileCode,
					"lipSyncJson": res.LipSync,
					"aiRes":       res.AnswerText,
				})
			})
		},
	}
	ask.Flags().StringVar(&sessionID, "session", "", "Session identifier (configured default when empty)")
	root.AddCommand(ask)

	root.AddCommand(&cobra.Command{
		Use:   "history <sessionId>",
		Short: "Print the stored turns of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, configPath, func(ctx context.Context, comps *runtime.Components) error {
				sess, err := comps.Conversations.Session(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"sessionId": sess.ID,
					"chats":     sess.Chats,
				})
			})
		},
	})

	return root
}

func withComponents(cmd *cobra.Command, configPath string, fn func(context.Context, *runtime.Components) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Events from one-off commands are not wanted on the bus.
	cfg.Bus.Enabled = false
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	comps, err := runtime.Assemble(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(ctx, comps)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
