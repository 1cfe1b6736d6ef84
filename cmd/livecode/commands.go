// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLivecode/pkg/ux"
	"github.com/AleutianAI/AleutianLivecode/pkg/validation"
)

// rootOptions are the flags shared by all commands.
type rootOptions struct {
	configPath  string
	sessionID   string
	plain       bool
	metricsAddr string
}

func (o *rootOptions) printer(w io.Writer) *ux.Printer {
	if o.plain {
		return ux.NewPrinter(w, ux.ModePlain)
	}
	return ux.NewPrinter(w, ux.DetectMode(os.Stdout))
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "livecode",
		Short: "Talk to your live Strudel pattern",
		Long: `livecode is a chat assistant for a Strudel pattern file. Ask for a
change and it edits the pattern, validates it, and schedules it to go
live on the next cycle boundary.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.aleutian/livecode.yaml)")
	pf.BoolVar(&opts.plain, "plain", false, "plain output without colors or icons")

	rootCmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "resume the session with this ID, or start it")
	rootCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides telemetry.metrics_addr)")

	rootCmd.AddCommand(newSessionsCmd(opts), newConfigCmd(opts))
	return rootCmd
}

// runChat opens the app and runs the chat loop on stdin.
func runChat(cmd *cobra.Command, opts *rootOptions) error {
	if opts.sessionID != "" {
		id, err := validation.SanitizeSessionID(opts.sessionID)
		if err != nil {
			return err
		}
		opts.sessionID = id
	}
	interactive := ux.IsInteractive(os.Stdin)

	sigs := []os.Signal{syscall.SIGTERM}
	if !interactive {
		sigs = append(sigs, os.Interrupt)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), sigs...)
	defer stop()

	a, err := openApp(ctx, opts.configPath, opts.sessionID)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.printer(cmd.OutOrStdout())

	addr := opts.metricsAddr
	if addr == "" {
		addr = a.cfg.Telemetry.MetricsAddr
	}
	if addr != "" {
		if err := a.serveMetrics(addr); err != nil {
			return err
		}
	}
	a.watchHost(out)

	var interrupts chan os.Signal
	if interactive {
		interrupts = make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer signal.Stop(interrupts)
	}

	c := newChat(chatDeps{
		Runner:     a.runner,
		Host:       a.host,
		Scheduler:  a.gate.Scheduler(),
		Knowledge:  a.knowledge,
		Printer:    out,
		Background: interactive,
		Stream:     interactive && out.Mode() == ux.ModeRich,
		Interrupts: interrupts,
	})
	defer c.Close()

	out.Title("Aleutian Livecode")
	out.Muted("session " + a.runner.SessionID() + " · /help for commands")
	return c.Run(ctx, cmd.InOrStdin())
}

// withBase runs fn with config, logger and the session store open.
func withBase(opts *rootOptions, fn func(ctx context.Context, b *base, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		b, err := openBase(opts.configPath)
		if err != nil {
			return err
		}
		defer b.Close()
		return fn(cmd.Context(), b, args)
	}
}
