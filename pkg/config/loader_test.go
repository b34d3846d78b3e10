package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leomancini/ai-phone-firmware/pkg/testutil"
	"github.com/leomancini/ai-phone-firmware/runtime/capture"
	"github.com/leomancini/ai-phone-firmware/runtime/handset"
	"github.com/leomancini/ai-phone-firmware/runtime/playback"
	"github.com/leomancini/ai-phone-firmware/runtime/providers/openai"
)

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "bridge.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "kitchen-phone", cfg.Metadata.Name)
	assert.Equal(t, "kitchen", cfg.Metadata.Labels["room"])

	s := cfg.Spec
	assert.Equal(t, "VOICEBRIDGE_TEST_KEY", s.Conversation.APIKeyEnv)
	assert.Equal(t, "server_vad", s.Conversation.TurnDetection.Mode)
	assert.Equal(t, 700*time.Millisecond, s.Conversation.TurnDetection.SilenceDuration.Std())
	assert.False(t, *s.Conversation.TurnDetection.AutoRespond)
	assert.True(t, *s.Conversation.TurnDetection.Interruptible, "unset fields take defaults")
	assert.Equal(t, 3, s.Conversation.Reconnect.MaxAttempts)
	assert.Equal(t, 2.0, s.Conversation.Reconnect.Multiplier)

	assert.Equal(t, "ws://phone.local:8765", s.Handset.URL)
	assert.True(t, s.Handset.HandsetEnabled())
	assert.Equal(t, 50*time.Millisecond, s.Capture.PollInterval.Std())
	assert.Equal(t, capture.DefaultCommand, s.Capture.Command)
	assert.Equal(t, []string{"-q", "-t", "wav", "-", "-d"}, s.Playback.Args)
	assert.False(t, *s.Playback.StreamHeader)
	assert.Equal(t, 750*time.Millisecond, s.Session.QuietInterval.Std())
	assert.Equal(t, 24*time.Hour, s.StateStore.TTL.Std())
	assert.Equal(t, "voicebridge", s.StateStore.Prefix)
	assert.Equal(t, LogFormatJSON, s.Logging.Format)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestParse_MinimalManifestGetsReferenceDefaults(t *testing.T) {
	cfg, err := Parse([]byte("apiVersion: voicebridge.leomancini.dev/v1alpha1\nkind: BridgeConfig\nspec: {}\n"))
	require.NoError(t, err)

	s := cfg.Spec
	assert.Equal(t, openai.DefaultModel, s.Conversation.Model)
	assert.Equal(t, DefaultAPIKeyEnv, s.Conversation.APIKeyEnv)
	assert.Equal(t, openai.DefaultInstructions, s.Conversation.Instructions)
	assert.Equal(t, "pcm16", s.Conversation.InputFormat)
	assert.Equal(t, "semantic_vad", s.Conversation.TurnDetection.Mode)
	assert.Equal(t, "medium", s.Conversation.TurnDetection.Eagerness)
	assert.Equal(t, handset.DefaultURL, s.Handset.URL)
	assert.Equal(t, capture.DefaultArgs, s.Capture.Args)
	assert.Equal(t, int64(44), s.Capture.HeaderBytes)
	assert.Equal(t, 100*time.Millisecond, s.Capture.PollInterval.Std())
	assert.Equal(t, time.Second, s.Capture.RestartDelay.Std())
	assert.Equal(t, playback.DefaultArgs, s.Playback.Args)
	assert.True(t, *s.Playback.StreamHeader)
	assert.Equal(t, 500*time.Millisecond, s.Session.QuietInterval.Std())
	assert.Equal(t, 500*time.Millisecond, s.Session.EndSessionGrace.Std())
	require.Len(t, s.Session.Termination.Steps, 2)
	assert.Equal(t, "SIGKILL", s.Session.Termination.Steps[1].Signal)
	assert.Equal(t, StateStoreMemory, s.StateStore.Type)
	assert.False(t, s.Recording.Enabled)
	assert.False(t, s.Metrics.Enabled)
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.Equal(t, APIVersion, cfg.APIVersion)
	assert.Equal(t, Kind, cfg.Kind)
	assert.NoError(t, cfg.Validate())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "wrong kind",
			yaml:   "apiVersion: voicebridge.leomancini.dev/v1alpha1\nkind: Arena\nspec: {}\n",
			errMsg: "schema validation failed",
		},
		{
			name:   "missing spec",
			yaml:   "apiVersion: voicebridge.leomancini.dev/v1alpha1\nkind: BridgeConfig\n",
			errMsg: "spec",
		},
		{
			name:   "bad duration",
			yaml:   "apiVersion: voicebridge.leomancini.dev/v1alpha1\nkind: BridgeConfig\nspec:\n  session:\n    quietInterval: half a second\n",
			errMsg: "quietInterval",
		},
		{
			name:   "unknown field",
			yaml:   "apiVersion: voicebridge.leomancini.dev/v1alpha1\nkind: BridgeConfig\nspec:\n  capture:\n    device: hw:1\n",
			errMsg: "device",
		},
		{
			name:   "capture args without buffer placeholder",
			yaml:   "apiVersion: voicebridge.leomancini.dev/v1alpha1\nkind: BridgeConfig\nspec:\n  capture:\n    args: [\"-q\", \"out.wav\"]\n",
			errMsg: "{file}",
		},
		{
			name:   "unknown signal",
			yaml:   "apiVersion: voicebridge.leomancini.dev/v1alpha1\nkind: BridgeConfig\nspec:\n  session:\n    termination:\n      steps:\n        - signal: SIGUSR1\n          grace: 1s\n",
			errMsg: "signal",
		},
		{
			name:   "not yaml",
			yaml:   "apiVersion: [",
			errMsg: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	var d Duration
	require.Error(t, d.UnmarshalYAML(yamlNode(t, "[1]")))
	require.Error(t, d.UnmarshalYAML(yamlNode(t, "soon")))
	require.NoError(t, d.UnmarshalYAML(yamlNode(t, "1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}

func TestWarnings(t *testing.T) {
	t.Setenv("VOICEBRIDGE_UNSET_KEY", "")
	cfg := Default()
	cfg.Spec.Conversation.APIKeyEnv = "VOICEBRIDGE_UNSET_KEY"
	cfg.Spec.Session.QuietInterval = Duration(10 * time.Second)
	cfg.Spec.Session.Termination.Steps = []SignalStep{{Signal: "SIGTERM", Grace: Duration(time.Second)}}
	cfg.Spec.Handset.Enabled = testutil.Ptr(false)
	cfg.Spec.Handset.StatusMessages = testutil.Ptr(true)

	v := NewConfigValidator(cfg)
	require.NoError(t, v.Validate())
	warns := v.GetWarnings()
	assert.Len(t, warns, 4)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.APIVersion = "v0"
	cfg.Spec.Capture.PollInterval = 0
	cfg.Spec.StateStore.Type = "etcd"
	cfg.Spec.Conversation.Reconnect.MaxDelay = Duration(time.Millisecond)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4 errors")
	assert.Contains(t, err.Error(), "apiVersion")
	assert.Contains(t, err.Error(), "capture.pollInterval")
	assert.Contains(t, err.Error(), "stateStore.type")
	assert.Contains(t, err.Error(), "conversation.reconnect.maxDelay")
}

func TestSchema_IsCopy(t *testing.T) {
	s := Schema()
	require.NotEmpty(t, s)
	s[0] = 'x'
	assert.Equal(t, byte('{'), Schema()[0])
}

func TestLoadConfig_EnvironmentKey(t *testing.T) {
	t.Setenv("VOICEBRIDGE_TEST_KEY", "sk-test")
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	data, err := os.ReadFile(filepath.Join("testdata", "bridge.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Spec.Conversation.APIKey())
}
