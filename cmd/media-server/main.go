package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"amplifi/internal/common"
	"amplifi/internal/config"
	"amplifi/internal/dbmongo"
	"amplifi/internal/media"
)

// media-server serves GridFS media on its own port, for deployments that keep
// blob traffic off the API process.
func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "media-server",
		Short:         "Serve GridFS media on /media/{fileId}",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file path")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := common.NewLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx := cmd.Context()
	mongoClient, err := dbmongo.NewMongoConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoClient.Close(ctx)

	store := media.NewGridFSStore(dbmongo.NewMediaStorage(mongoClient), cfg.Media.BaseURL)
	server := media.NewHTTPServer(store)

	addr := cfg.ServerAddr()
	common.Log.WithField("addr", addr).Info("media server listening on /media/{fileId}")
	return http.ListenAndServe(addr, server)
}
