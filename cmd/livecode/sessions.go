// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianLivecode/pkg/validation"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/config"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation"
)

// maxImportBytes caps a session export read by sessions import.
const maxImportBytes = 16 * 1024 * 1024

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved chat sessions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved session IDs",
			Args:  cobra.NoArgs,
			RunE: withBase(opts, func(ctx context.Context, b *base, _ []string) error {
				out := opts.printer(cmd.OutOrStdout())
				ids, err := b.sessions.List(ctx)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					out.Muted("No saved sessions.")
					return nil
				}
				for _, id := range ids {
					out.Text(id)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print the active branch of a session",
			Args:  cobra.ExactArgs(1),
			RunE: withBase(opts, func(ctx context.Context, b *base, args []string) error {
				id, err := validation.SanitizeSessionID(args[0])
				if err != nil {
					return err
				}
				session, err := b.sessions.Load(ctx, id)
				if err != nil {
					return err
				}
				printHistory(opts.printer(cmd.OutOrStdout()), session)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a saved session",
			Args:  cobra.ExactArgs(1),
			RunE: withBase(opts, func(ctx context.Context, b *base, args []string) error {
				id, err := validation.SanitizeSessionID(args[0])
				if err != nil {
					return err
				}
				if err := b.sessions.Delete(ctx, id); err != nil {
					return err
				}
				opts.printer(cmd.OutOrStdout()).Success("Deleted session " + id + ".")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "import <id> <file>",
			Short: "Import a session export, including older formats",
			Args:  cobra.ExactArgs(2),
			RunE: withBase(opts, func(ctx context.Context, b *base, args []string) error {
				return importSession(ctx, b, args[0], args[1], opts.printer(cmd.OutOrStdout()).Success)
			}),
		},
	)
	return cmd
}

// importSession stores the raw export under id, then loads it back so a
// legacy record is migrated and rewritten in the current format.
func importSession(ctx context.Context, b *base, id, path string, report func(string)) error {
	id, err := validation.SanitizeSessionID(id)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImportBytes+1))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxImportBytes {
		return fmt.Errorf("%s exceeds %d bytes", path, maxImportBytes)
	}
	if _, _, err := conversation.Load(data); err != nil {
		return fmt.Errorf("%s is not a session export: %w", path, err)
	}
	if err := b.sessions.SaveRaw(ctx, id, data); err != nil {
		return err
	}
	session, err := b.sessions.Load(ctx, id)
	if err != nil {
		return err
	}
	report(fmt.Sprintf("Imported session %s with %d branch(es).", id, len(session.Branches)))
	return nil
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = c.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				path := opts.configPath
				if path == "" {
					p, err := config.DefaultPath()
					if err != nil {
						return err
					}
					path = p
				}
				fmt.Fprintln(c.OutOrStdout(), path)
				return nil
			},
		},
	)
	return cmd
}
