// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"pkt.systems/pslog"

	"github.com/jeranaias/rigsync/internal/api"
	"github.com/jeranaias/rigsync/internal/config"
	"github.com/jeranaias/rigsync/internal/logging"
	"github.com/jeranaias/rigsync/internal/session"
	"github.com/jeranaias/rigsync/internal/storage"
	"github.com/jeranaias/rigsync/internal/transport"
)

// =============================================================================
// APP
// =============================================================================

// App is the wired client stack for one configuration.
type App struct {
	Config  *config.Config
	Log     pslog.Logger
	Client  *api.Client
	Channel *transport.Channel
	Store   *session.Store

	// Archive is nil when the archive is disabled.
	Archive *storage.Archive

	detach func()
}

// NewApp builds the REST client, transport channel, archive and store from
// cfg. The channel is not connected.
func NewApp(ctx context.Context, cfg *config.Config, log pslog.Logger) (*App, error) {
	log = logging.OrContext(ctx, log)

	client := api.New(cfg.Server.URL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		api.WithToken(cfg.Server.Token),
		api.WithMaxRetries(cfg.Server.MaxRetries),
		api.WithLogger(log.With("component", "api")),
	)

	chOpts := transport.Options{
		URL:          cfg.WebsocketURL(),
		Token:        client.Token,
		Logger:       log.With("component", "transport"),
		InitialDelay: cfg.InitialDelay(),
		MaxDelay:     cfg.MaxDelay(),
	}
	if cfg.Transport.RefreshSession {
		chOpts.Refresher = client.RefreshSession
	}
	channel := transport.New(chOpts)

	app := &App{
		Config:  cfg,
		Log:     log,
		Client:  client,
		Channel: channel,
	}

	storeOpts := session.Options{
		Backend:   client,
		Transport: channel,
		Logger:    log.With("component", "session"),
	}
	if cfg.Storage.ArchiveEnabled {
		archive, err := storage.Open(cfg.Storage.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		app.Archive = archive
		storeOpts.Archive = archive
	}

	app.Store = session.New(storeOpts)
	app.detach = app.Store.Attach(channel)
	return app, nil
}

// Connect opens the socket. A failed first dial is logged and left to the
// reconnect cycle.
func (a *App) Connect(ctx context.Context) {
	if err := a.Channel.Connect(ctx); err != nil {
		a.Log.Warn("cli: initial connect failed; retrying in background", "error", err)
	}
}

// Reload applies the settings of cfg that can change at runtime.
func (a *App) Reload(cfg *config.Config) {
	a.Channel.SetBackoff(cfg.InitialDelay(), cfg.MaxDelay())
	a.Log.Info("cli: configuration reloaded",
		"initial_delay", cfg.InitialDelay(), "max_delay", cfg.MaxDelay())
}

// Close disconnects and releases the archive.
func (a *App) Close() error {
	if a.detach != nil {
		a.detach()
	}
	a.Channel.Disconnect()
	if a.Archive != nil {
		return a.Archive.Close()
	}
	return nil
}

// =============================================================================
// LOGGING
// =============================================================================

// OpenLogger builds the logger described by cfg.Log. When a log file is
// configured the returned closer closes it; otherwise output goes to
// fallback and the closer is a no-op.
func OpenLogger(cfg *config.Config, fallback io.Writer) (pslog.Logger, io.Closer, error) {
	if cfg.Log.File == "" {
		return logging.New(fallback, cfg.Log.Level, cfg.Log.Console), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0700); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return logging.New(f, cfg.Log.Level, false), f, nil
}
