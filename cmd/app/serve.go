package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/untibullet/fixit/internal/auth"
	"github.com/untibullet/fixit/internal/handlers"
	"github.com/untibullet/fixit/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API and realtime channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting FixIT helpdesk service",
		zap.String("server_address", cfg.Server.GetAddress()),
		zap.String("database_driver", cfg.Database.Driver))

	repo, err := openRepository(parent, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.Migrate(parent); err != nil {
		return err
	}

	issuer, err := auth.NewIssuer(cfg.Auth.SigningKey, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	if cfg.Auth.SigningKey == "" {
		logger.Warn("auth.signing_key is empty, tokens will not survive a restart")
	}

	hub := realtime.NewHub(cfg.Realtime.QueueSize, logger)
	ws := realtime.NewHandler(hub, issuer, repo, cfg.Realtime, logger)
	handler := handlers.New(repo, issuer, hub, cfg.Auth, logger)

	// Настройка Echo сервера
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error == nil {
				logger.Info("request",
					zap.String("method", c.Request().Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
				)
			} else {
				logger.Error("request error",
					zap.String("method", c.Request().Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Error(v.Error),
				)
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Регистрация роутов
	handler.RegisterRoutes(e)
	e.GET("/ws", ws.Serve)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := cfg.Server.GetAddress()
		logger.Info("server listening", zap.String("address", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server gracefully")

		// Подключения канала не участвуют в Shutdown, закрываем их сами
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
