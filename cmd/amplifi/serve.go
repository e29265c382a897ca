package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"amplifi/internal/admin"
	"amplifi/internal/common"
	"amplifi/internal/wire"
)

const shutdownTimeout = 30 * time.Second

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub, admin gRPC server and cron jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(flags)
			if err != nil {
				return err
			}
			common.Log.Info("Initializing application...")
			app, cleanup, err := wire.InitializeApplication(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return serve(cmd.Context(), app)
		},
	}
}

func serve(ctx context.Context, app *wire.Application) error {
	cfg := app.Config

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go app.Hub.Run(hubCtx)

	server := &http.Server{
		Addr:           cfg.ServerAddr(),
		Handler:        setupRouter(app),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		common.Log.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if app.AdminGRPC != nil {
		lis, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, cfg.GRPC.Port))
		if err != nil {
			return err
		}
		go admin.Serve(app.AdminGRPC, lis)
	}

	if err := app.Jobs.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		common.Log.WithError(err).Error("Server failed")
		return err
	}

	common.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		common.Log.WithError(err).Warn("Server forced to shutdown")
	}
	if app.AdminGRPC != nil {
		app.AdminGRPC.GracefulStop()
	}
	app.Jobs.Stop(shutdownCtx)
	stopHub()

	common.Log.Info("Server gracefully stopped")
	return nil
}
