package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hearthware/go-hearth/internal/config"
	"github.com/hearthware/go-hearth/internal/log"
	"github.com/hearthware/go-hearth/pkg/dispatch"
	"github.com/hearthware/go-hearth/pkg/hass"
	"github.com/hearthware/go-hearth/pkg/policy"
	"github.com/hearthware/go-hearth/pkg/session"
	"github.com/hearthware/go-hearth/pkg/status"
	"github.com/hearthware/go-hearth/pkg/voice"

	// Register the Gemini Live pipeline.
	_ "github.com/hearthware/go-hearth/pkg/voice/bundled"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hearthd",
	Short: "Voice gateway between Wyoming satellites, Gemini Live, and Home Assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
}

func run() error {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	settings, err := config.Load(v)
	if err != nil {
		return err
	}
	log.Init(settings.LogLevel)

	pol := &policy.Policy{
		AllowedDomains: settings.AllowedDomains,
		AllowPatterns:  settings.EntityAllowlist,
		BlockPatterns:  settings.EntityBlocklist,
	}

	hassClient := hass.NewClient(settings.HassURL, settings.HassToken, nil)
	if !hassClient.IsConfigured() {
		log.Warn("home assistant URL or token not configured; tool calls will fail")
	}

	engineCfg := session.Config{
		Voice: voice.Config{
			APIKey:           settings.APIKey,
			Model:            settings.Model,
			Voice:            settings.Voice,
			InputSampleRate:  settings.InputSampleRate,
			OutputSampleRate: settings.RemoteOutputRate,
		},
		Inventory:          hassClient,
		Dispatcher:         dispatch.New(hassClient, pol, 0),
		Policy:             pol,
		MaxContextEntities: settings.MaxContextEntities,
		OutputSampleRate:   settings.OutputSampleRate,
		SilenceTail:        time.Duration(settings.SilenceTailMS) * time.Millisecond,
		DrainDeadline:      time.Duration(settings.DrainDeadlineMS) * time.Millisecond,
	}

	var statusSrv *status.Server
	engineCfg.OnEvent = func(n session.Notification) {
		if statusSrv != nil {
			statusSrv.Notify(n)
		}
	}

	engine := session.NewEngine(engineCfg)
	statusSrv = status.NewServer(engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", settings.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		addr := fmt.Sprintf(":%d", settings.StatusPort)
		log.Info("status server listening", "addr", addr)
		if err := statusSrv.Listen(addr); err != nil {
			log.Error("status server failed", "err", err)
		}
	}()

	log.Info("hearthd listening", "addr", settings.ListenAddr(), "model", settings.Model)
	if err := engine.Serve(ctx, ln); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("status server shutdown", "err", err)
	}

	log.Info("goodbye")
	return nil
}
