package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppgw/internal/api"
	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/config"
	"github.com/matheus3301/wppgw/internal/history"
	"github.com/matheus3301/wppgw/internal/logging"
	"github.com/matheus3301/wppgw/internal/outbox"
	"github.com/matheus3301/wppgw/internal/registry"
	"github.com/matheus3301/wppgw/internal/session"
	"github.com/matheus3301/wppgw/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Params holds the process-level options passed to the fx module.
type Params struct {
	ConfigPath string             // empty = <base>/config.toml under the default base dir
	Connector  registry.Connector // optional override for testing; nil = whatsmeow
}

// Module returns the fx module for the gateway, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Module("daemon",
			fx.Supply(p),
			fx.Provide(
				provideConfig,
				provideLayout,
				provideLogger,
				provideBus,
				provideConnector,
				provideRegistry,
				provideRetriever,
				provideSender,
				provideAuth,
				api.NewHandler,
				provideRouter,
				NewServer,
			),
			fx.Invoke(registerLifecycle),
		),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.NewLayout("").ConfigPath()
	}
	// First run: leave an editable config behind.
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := config.Save(path, config.Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}
	return config.Load(path)
}

func provideLayout(cfg *config.Config) session.Layout {
	return session.NewLayout(cfg.Storage.BaseDir)
}

func provideLogger(cfg *config.Config, layout session.Layout) (*zap.Logger, error) {
	path := cfg.Log.File
	if path == "" {
		path = layout.LogPath()
	}
	return logging.New(session.ExpandHome(path), cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConnector(p Params, cfg *config.Config, layout session.Layout, b *bus.Bus) registry.Connector {
	if p.Connector != nil {
		return p.Connector
	}
	return wa.NewConnector(layout, b, cfg.WhatsApp.DeviceName)
}

func provideRegistry(layout session.Layout, connector registry.Connector, b *bus.Bus, logger *zap.Logger) *registry.Registry {
	return registry.New(layout, connector, b, logger, registry.Options{})
}

func provideRetriever(logger *zap.Logger) *history.Retriever {
	return history.NewRetriever(logger)
}

func provideSender(logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(logger)
}

func provideAuth(cfg *config.Config, logger *zap.Logger) *api.Auth {
	auth := api.NewAuth(cfg.Auth.Token, cfg.Auth.JWTSecret)
	if !auth.Enabled() {
		logger.Warn("authentication disabled, set auth.token or auth.jwt_secret")
	}
	return auth
}

func provideRouter(cfg *config.Config, h *api.Handler, auth *api.Auth, logger *zap.Logger) *gin.Engine {
	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.NewRouter(h, auth, logger)
}

// restoreSessions reopens every session that was paired before the last
// shutdown. Sessions still waiting for a QR scan are left for the client to
// start again.
func restoreSessions(ctx context.Context, reg *registry.Registry, logger *zap.Logger) {
	layout := reg.Layout()
	names, err := layout.Names()
	if err != nil {
		logger.Warn("list sessions", zap.Error(err))
		return
	}
	for _, name := range names {
		if !layout.HasCredentials(name) {
			continue
		}
		if _, err := reg.Create(ctx, name, false); err != nil {
			logger.Warn("restore session failed", zap.String("session", name), zap.Error(err))
			continue
		}
		logger.Info("session restored", zap.String("session", name))
	}
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, reg *registry.Registry, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			restoreSessions(ctx, reg, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := srv.Stop(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			reg.Shutdown(shutdownCtx)

			logger.Info("gateway stopped")
			if syncErr := logger.Sync(); syncErr != nil && !isIgnorableSyncError(syncErr) {
				err = errors.Join(err, syncErr)
			}
			return err
		},
	})
}

// Sync on a terminal stderr fails with EINVAL or ENOTTY; that is not worth
// failing shutdown for.
func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}
