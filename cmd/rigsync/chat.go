// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigsync/internal/cli"
)

func newChatCmd(cfgPath *string) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Example: `  rigsync chat
  rigsync chat --conversation 3f2a9c`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, path, cleanup, err := openApp(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()
			return cli.RunChat(cmd.Context(), app, cli.ChatOptions{
				ConversationID: conversationID,
				ConfigPath:     path,
			})
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "C", "", "conversation to open on start")
	return cmd
}
