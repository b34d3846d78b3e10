package config

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/leomancini/ai-phone-firmware/pkg/testutil"
	"github.com/leomancini/ai-phone-firmware/runtime/conversation"
)

func yamlNode(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	return doc.Content[0]
}

func loadTestdata(t *testing.T) *BridgeConfig {
	t.Helper()
	t.Setenv("VOICEBRIDGE_TEST_KEY", "sk-test")
	cfg, err := LoadConfig("testdata/bridge.yaml")
	require.NoError(t, err)
	return cfg
}

func TestTurnDetectionConfig(t *testing.T) {
	cfg := loadTestdata(t)

	td := cfg.Spec.Conversation.TurnDetectionConfig()
	assert.Equal(t, conversation.DetectionServerVAD, td.Mode)
	assert.Equal(t, conversation.SensitivityHigh, td.Sensitivity)
	assert.Equal(t, 700*time.Millisecond, td.SilenceDuration)
	assert.Equal(t, 300*time.Millisecond, td.PrefixPadding)
	assert.False(t, td.AutoRespond)
	assert.True(t, td.Interruptible)
	assert.NoError(t, td.Validate())
}

func TestLinkConfigs(t *testing.T) {
	cfg := loadTestdata(t)

	link := cfg.Spec.Conversation.LinkConfig()
	assert.Equal(t, "sk-test", link.APIKey)
	assert.Equal(t, 500*time.Millisecond, link.Reconnect.InitialDelay)
	assert.Equal(t, 5*time.Second, link.Reconnect.MaxDelay)
	assert.Equal(t, 3, link.Reconnect.MaxAttempts)
	assert.Contains(t, link.EndpointURL(), "model=gpt-4o-realtime-preview-2024-12-17")

	hs := cfg.Spec.Handset.LinkConfig()
	assert.Equal(t, "ws://phone.local:8765", hs.URL)
	assert.Equal(t, 2.0, hs.StatusRate)
	assert.Equal(t, 5, hs.Reconnect.MaxAttempts)
}

func TestLadder(t *testing.T) {
	cfg := loadTestdata(t)

	ladder := cfg.Spec.Session.Ladder()
	require.Len(t, ladder.Steps, 2)
	assert.Equal(t, syscall.SIGINT, ladder.Steps[0].Signal)
	assert.Equal(t, 200*time.Millisecond, ladder.Steps[0].Grace)
	assert.Equal(t, syscall.SIGKILL, ladder.Steps[1].Signal)
	assert.Equal(t, 1300*time.Millisecond, ladder.Bound())
}

func TestPipeConfigs(t *testing.T) {
	cfg := loadTestdata(t)
	ladder := cfg.Spec.Session.Ladder()

	rec := cfg.Spec.Capture.PipeConfig(ladder)
	assert.Equal(t, "rec", rec.Command)
	assert.Contains(t, rec.Args, "{file}")
	assert.Equal(t, "/tmp/voicebridge", rec.TempDir)
	assert.Equal(t, int64(44), rec.HeaderBytes)
	assert.Equal(t, 50*time.Millisecond, rec.PollInterval)
	assert.Equal(t, 3, rec.MaxRestarts)
	assert.Equal(t, ladder, rec.Ladder)

	rec.Args[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Spec.Capture.Args[0])

	play := cfg.Spec.Playback.PipeConfig(ladder)
	assert.Equal(t, "sox", play.Command)
	assert.False(t, play.StreamHeader)
	assert.Equal(t, 64*1024, play.CapacityBytes)
	assert.Equal(t, 3*time.Second, play.StallTimeout)
}

func TestSessionConfig(t *testing.T) {
	cfg := loadTestdata(t)

	sc := cfg.Spec.SessionConfig()
	assert.Equal(t, "You are a rotary phone. Keep it short.", sc.Instructions)
	assert.Equal(t, "pcm16", sc.InputFormat)
	assert.Equal(t, 750*time.Millisecond, sc.QuietInterval)
	assert.Equal(t, 3, sc.MaxPipeRestarts)
	assert.True(t, sc.StatusMessages)
	assert.True(t, sc.RetainTurnAudio)

	cfg.Spec.Handset.Enabled = testutil.Ptr(false)
	assert.False(t, cfg.Spec.SessionConfig().StatusMessages)
}

func TestTelemetryProviderConfig(t *testing.T) {
	cfg := loadTestdata(t)
	pc := cfg.Spec.Telemetry.ProviderConfig()
	assert.Equal(t, "http://otel.local:4318", pc.Endpoint)
	assert.Equal(t, DefaultServiceName, pc.ServiceName)
	assert.Equal(t, 0.5, pc.SampleRatio)
	assert.NotEmpty(t, pc.ServiceVersion)
}
