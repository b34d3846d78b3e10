// Command voicebridge bridges a telephone handset to a realtime
// conversation service.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/leomancini/ai-phone-firmware/runtime/logger"
	"github.com/leomancini/ai-phone-firmware/runtime/version"
)

const (
	envPrefix      = "VOICEBRIDGE"
	defaultEnvFile = ".env"
	flagConfig     = "config"
	flagEnvFile    = "env-file"
	flagLogLevel   = "log-level"
)

// newViper returns the settings shared by every command. Every key can also
// be set as VOICEBRIDGE_<KEY> with dots and dashes as underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(newViper())
}

func buildRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "voicebridge",
		Short:         "Duplex voice bridge between a handset and a realtime conversation service",
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `voicebridge connects a telephone handset to a realtime speech-to-speech
service. Lifting the handset opens a session; microphone audio is streamed
to the service and its spoken responses are played back on the earpiece,
turn by turn, until the handset is put down.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(v.GetString(flagEnvFile)); err != nil {
				return err
			}
			if level := v.GetString(flagLogLevel); level != "" {
				logger.SetLevel(logger.ParseLevel(level))
			}
			return nil
		},
	}
	root.SetVersionTemplate(version.Get().String() + "\n")

	root.PersistentFlags().StringP(flagConfig, "c", "", "BridgeConfig manifest (defaults reproduce the reference deployment)")
	root.PersistentFlags().String(flagEnvFile, defaultEnvFile, "Environment file loaded before anything else")
	root.PersistentFlags().String(flagLogLevel, "", "Override the log level (trace, debug, info, warn, error)")
	bindFlags(v, "", root.PersistentFlags())

	root.AddCommand(
		newRunCmd(v),
		newValidateCmd(v),
		newExportCmd(v),
		newRingCmd(v),
		newVersionCmd(),
	)
	return root
}

// bindFlags binds every flag in fs to prefix+name.
func bindFlags(v *viper.Viper, prefix string, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(prefix+f.Name, f)
	})
}

// loadEnvFile reads KEY=value pairs without overriding the environment. A
// missing default file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && path == defaultEnvFile {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}
