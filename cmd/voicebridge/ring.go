package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leomancini/ai-phone-firmware/runtime/handset"
)

const (
	flagStop     = "stop"
	flagURL      = "url"
	flagTimeout = "timeout"

	ringPrefix = "ring."
)

func newRingCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ring [ringtone]",
		Short: "Ring the handset, or stop a ringtone with --stop",
		Long: `Asks the handset's socket server to play a ringtone. Without an argument
the server picks its default ringtone. Lifting the handset stops the ring.

Examples:
  voicebridge ring
  voicebridge ring telephone-ring-02.wav
  voicebridge ring --stop`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c handset.Command = handset.StopRing{}
			if !v.GetBool(ringPrefix + flagStop) {
				r := handset.Ring{}
				if len(args) == 1 {
					r.Ringtone = args[0]
				}
				c = r
			} else if len(args) == 1 {
				return fmt.Errorf("--stop takes no ringtone")
			}

			cfg, err := loadRunConfig(v)
			if err != nil {
				return err
			}
			hc := cfg.Spec.Handset.LinkConfig()
			if url := v.GetString(ringPrefix + flagURL); url != "" {
				hc.URL = url
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration(ringPrefix+flagTimeout))
			defer cancel()
			return runRing(ctx, cmd, hc, c)
		},
	}
	f := cmd.Flags()
	f.Bool(flagStop, false, "Stop the current ringtone instead of starting one")
	f.String(flagURL, "", "Handset socket server URL (defaults to the manifest's)")
	f.Duration(flagTimeout, 5*time.Second, "Give up if the socket server cannot be reached in time")
	bindFlags(v, ringPrefix, f)
	return cmd
}

func runRing(ctx context.Context, cmd *cobra.Command, hc handset.Config, c handset.Command) error {
	link := handset.NewLink(hc)
	if err := link.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = link.Close() }()

	if err := link.Send(c); err != nil {
		return err
	}
	switch r := c.(type) {
	case handset.Ring:
		name := r.Ringtone
		if name == "" {
			name = "default ringtone"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ringing %s with %s\n", hc.URL, name)
	case handset.StopRing:
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped ringing on %s\n", hc.URL)
	}
	return nil
}
