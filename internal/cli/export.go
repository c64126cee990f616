// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/jeranaias/rigsync/internal/export"
	"github.com/jeranaias/rigsync/internal/model"
	"github.com/jeranaias/rigsync/internal/session"
)

// ExportActive writes the active conversation of st to dir in format and
// returns the file path. Thinking blocks follow showThinking.
func ExportActive(st session.State, format, dir string, showThinking bool) (string, error) {
	if st.ActiveID == "" {
		return "", session.ErrNoActiveConversation
	}
	conv := st.Active()
	if conv == nil {
		conv = &model.Conversation{ID: st.ActiveID}
	}

	opts := export.DefaultOptions()
	opts.OutputDir = dir
	opts.IncludeThinking = showThinking
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return "", err
	}
	return export.ToFile(&export.Transcript{Conversation: conv, Messages: st.Messages}, exporter, opts)
}
