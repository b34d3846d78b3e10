package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leomancini/ai-phone-firmware/pkg/config"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
	"github.com/leomancini/ai-phone-firmware/runtime/version"
)

// Keys accepted by run as flags or VOICEBRIDGE_* variables.
const (
	keyHeadless    = "headless"
	keyMetricsAddr = "metrics-addr"
	keyRecord      = "record"
	keyStateStore  = "state-store"
	keyRedisAddr   = "redis-addr"
	keyJournal     = "journal"
	keyTelemetry   = "telemetry"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Long: `Starts the bridge. With the handset link enabled, a session opens when the
handset is lifted and ends when it is put down. With --headless, one session
opens immediately and lasts until the process is interrupted.

Examples:
  voicebridge run
  voicebridge run -c bridge.yaml --metrics-addr :9090
  VOICEBRIDGE_HEADLESS=true voicebridge run --record`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunConfig(v)
			if err != nil {
				return err
			}
			// the flag wins over the manifest
			if level := v.GetString(flagLogLevel); level != "" {
				cfg.Spec.Logging.DefaultLevel = level
			}
			out, err := cfg.Spec.Logging.OpenOutput()
			if err != nil {
				return err
			}
			defer func() { _ = out.Close() }()
			logger.SetOutput(out)
			if err := logger.Configure(cfg.Spec.Logging.ToLogger()); err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			logger.Info("Starting voicebridge", version.Get().LogAttrs()...)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx, cfg, bridgeOptions{headless: v.GetBool(keyHeadless)})
		},
	}

	f := cmd.Flags()
	f.Bool(keyHeadless, false, "Run one session without the handset link")
	f.String(keyMetricsAddr, "", "Serve Prometheus metrics on this address")
	f.Bool(keyRecord, false, "Archive every response as a WAV file")
	f.String(keyStateStore, "", "Session state store: memory or redis")
	f.String(keyRedisAddr, "", "Redis address for the redis state store")
	f.Bool(keyJournal, false, "Journal session events to disk")
	f.Bool(keyTelemetry, false, "Export session traces over OTLP")
	bindFlags(v, "", f)
	return cmd
}

func runBridge(ctx context.Context, cfg *config.BridgeConfig, opts bridgeOptions) error {
	b, err := newBridge(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer b.close()
	return b.run(ctx)
}

// loadRunConfig reads the manifest, or the defaults without one, and then
// applies flag and environment overrides.
func loadRunConfig(v *viper.Viper) (*config.BridgeConfig, error) {
	cfg := config.Default()
	if path := v.GetString(flagConfig); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	spec := &cfg.Spec
	if addr := v.GetString(keyMetricsAddr); addr != "" {
		spec.Metrics.Enabled = true
		spec.Metrics.Addr = addr
	}
	if v.GetBool(keyRecord) {
		spec.Recording.Enabled = true
	}
	if v.GetBool(keyJournal) {
		spec.Journal.Enabled = true
	}
	if v.GetBool(keyTelemetry) {
		spec.Telemetry.Enabled = true
	}
	if store := v.GetString(keyStateStore); store != "" {
		spec.StateStore.Type = store
	}
	if addr := v.GetString(keyRedisAddr); addr != "" {
		spec.StateStore.Addr = addr
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
