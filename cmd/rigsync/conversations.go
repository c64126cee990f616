// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigsync/internal/cli"
	"github.com/jeranaias/rigsync/internal/model"
	"github.com/jeranaias/rigsync/internal/session"
)

func newConversationsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage conversations",
	}

	cmd.AddCommand(newConvListCmd(cfgPath))
	cmd.AddCommand(newConvShowCmd(cfgPath))
	cmd.AddCommand(newConvCreateCmd(cfgPath))
	cmd.AddCommand(newConvRenameCmd(cfgPath))
	cmd.AddCommand(newConvDeleteCmd(cfgPath))
	cmd.AddCommand(newConvSearchCmd(cfgPath))
	cmd.AddCommand(newConvExportCmd(cfgPath))

	return cmd
}

func newConvListCmd(cfgPath *string) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, cleanup, err := openApp(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if offline {
				if app.Archive == nil {
					return errors.New("the local archive is disabled")
				}
				convs, err := app.Archive.Conversations(cmd.Context())
				if err != nil {
					return err
				}
				cli.PrintConversations(out(cmd), session.State{Conversations: convs}, app.Config.UI.PreviewLength)
				return nil
			}

			if err := app.Store.LoadConversations(cmd.Context()); err != nil {
				return err
			}
			cli.PrintConversations(out(cmd), app.Store.Snapshot(), app.Config.UI.PreviewLength)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "read the local archive instead of the server")
	return cmd
}

func newConvShowCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, cleanup, err := openApp(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.Store.SelectConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			st := app.Store.Snapshot()
			if st.Stale {
				fmt.Fprintln(out(cmd), "(server unreachable; showing archived copy)")
			}
			cli.PrintHistory(out(cmd), st, app.Config.UI.PreviewLength)
			return nil
		},
	}
}

func newConvCreateCmd(cfgPath *string) *cobra.Command {
	var params model.CreateParams
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, cleanup, err := openApp(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			conv, err := app.Store.CreateConversation(cmd.Context(), params)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out(cmd), conv.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&params.Title, "title", "", "conversation title")
	cmd.Flags().StringVar(&params.Model, "model", "", "model name")
	cmd.Flags().StringVar(&params.SystemPrompt, "system", "", "system prompt")
	return cmd
}

func newConvRenameCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <conversation-id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, cleanup, err := openApp(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			return app.Store.UpdateConversation(cmd.Context(), args[0],
				model.ConversationPatch{Title: model.StringPtr(args[1])})
		},
	}
}

func newConvDeleteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, cleanup, err := openApp(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			return app.Store.DeleteConversation(cmd.Context(), args[0])
		},
	}
}

func newConvSearchCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search archived messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, cleanup, err := openApp(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if app.Archive == nil {
				return errors.New("the local archive is disabled")
			}
			hits, err := app.Archive.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			cli.PrintSearchHits(out(cmd), hits, app.Config.UI.PreviewLength)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of results")
	return cmd
}

func newConvExportCmd(cfgPath *string) *cobra.Command {
	var format, dir string
	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Write a conversation to a Markdown or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, cleanup, err := openApp(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.Store.LoadConversations(cmd.Context()); err != nil {
				app.Log.Warn("export: conversation list unavailable; exporting without metadata", "error", err)
			}
			if err := app.Store.SelectConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			path, err := cli.ExportActive(app.Store.Snapshot(), format, dir, app.Config.UI.ShowThinking)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out(cmd), path)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "export format (markdown, json)")
	cmd.Flags().StringVarP(&dir, "output", "o", ".", "output directory")
	return cmd
}
