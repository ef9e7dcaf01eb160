package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/adminapi"
	"github.com/talkincode/wabot/internal/app"
	"github.com/talkincode/wabot/internal/webserver"
)

var (
	cfgFile     string
	phoneNumber string
	usePairing  bool
)

func main() {
	root := &cobra.Command{
		Use:           "wabot",
		Short:         "WhatsApp command bot with an admin api",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default wabot.yml or /etc/wabot.yml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the admin api",
		RunE:  runServe,
	}
	serve.Flags().StringVar(&phoneNumber, "phone", "", "connect this number on startup")
	serve.Flags().BoolVar(&usePairing, "pairing", false, "link with a pairing code instead of a QR code")

	initdb := &cobra.Command{
		Use:   "initdb",
		Short: "Drop and recreate all tables",
		RunE:  runInitDB,
	}

	root.AddCommand(serve, initdb)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadApp() (*app.Application, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		return nil, err
	}
	return application, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	application, err := loadApp()
	if err != nil {
		return err
	}
	defer application.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application.StartBackgroundJobs(ctx)

	server := webserver.Init(application.Config().Web, application)
	adminapi.Init()

	if phoneNumber != "" {
		result, err := application.BotManager().Connect(ctx, phoneNumber, usePairing)
		if err != nil {
			zap.L().Error("startup connect failed", zap.String("namespace", "app"), zap.Error(err))
		} else if result.PairingCode != "" {
			fmt.Printf("Pairing code for %s: %s\n", phoneNumber, result.PairingCode)
		}
	}

	err = server.Start(ctx)
	zap.L().Info("shutting down", zap.String("namespace", "app"))
	return err
}

func runInitDB(_ *cobra.Command, _ []string) error {
	application, err := loadApp()
	if err != nil {
		return err
	}
	defer application.Release()
	application.InitDb()
	zap.S().Info("database initialized")
	return nil
}
