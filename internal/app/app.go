package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/schedulesnap/schedulesnap/internal/api"
	"github.com/schedulesnap/schedulesnap/internal/backend"
	"github.com/schedulesnap/schedulesnap/internal/config"
	"github.com/schedulesnap/schedulesnap/internal/editor"
	"github.com/schedulesnap/schedulesnap/internal/security"
	"github.com/schedulesnap/schedulesnap/internal/workflow"
)

type Application struct {
	cfg    config.Config
	ctrl   *workflow.Controller
	logger *slog.Logger
}

// New wires the workflow controller from the configuration. A nil
// controller builds the default stack: HTTP backend client plus a
// controller carrying the configured editing policy.
func New(cfg config.Config, ctrl *workflow.Controller, logger *slog.Logger) *Application {
	if logger == nil {
		logger = slog.Default()
	}
	if ctrl == nil {
		ctrl = BuildController(cfg, logger)
	}
	return &Application{cfg: cfg, ctrl: ctrl, logger: logger}
}

// BuildController assembles the production controller for the given
// configuration.
func BuildController(cfg config.Config, logger *slog.Logger) *workflow.Controller {
	client := backend.New(cfg.BackendURL, &http.Client{Timeout: cfg.RequestTimeout}, logger)
	return workflow.New(workflow.Options{
		Backend: client,
		Editor: editor.Options{
			Windows: editor.Windows{
				Date:   cfg.DebounceDate,
				Time:   cfg.DebounceTime,
				Toggle: cfg.DebounceToggle,
			},
			DefaultDuration: cfg.DefaultDuration(),
			AutoCorrectEnd:  cfg.AutoCorrectEnd,
			Location:        cfg.Location(),
		},
		DefaultDuration: cfg.DefaultDuration(),
		Logger:          logger,
	})
}

func (a *Application) Run(ctx context.Context) error {
	server := api.New(api.Options{
		Controller: a.ctrl,
		Auth: security.TokenGuard{
			Enabled: a.cfg.RequireBearerToken,
			Token:   a.cfg.BearerToken,
		},
		Logger: a.logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	wg := sync.WaitGroup{}

	if a.cfg.BindAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeTCP(ctx, a.cfg.BindAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("tcp server: %w", err)
			}
		}()
	}
	if a.cfg.UnixSocketPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeUnix(ctx, a.cfg.UnixSocketPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("unix server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	case <-ctx.Done():
		wg.Wait()
		return nil
	}
}
