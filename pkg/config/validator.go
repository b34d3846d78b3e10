package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Quiet intervals outside this range are accepted with a warning.
const (
	minSensibleQuiet = 100 * time.Millisecond
	maxSensibleQuiet = 5 * time.Second
)

// ConfigValidator checks constraints the schema cannot express.
type ConfigValidator struct {
	config *BridgeConfig
	errors []error
	warns  []string
}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator(cfg *BridgeConfig) *ConfigValidator {
	return &ConfigValidator{
		config: cfg,
		errors: make([]error, 0),
		warns:  make([]string, 0),
	}
}

// Validate returns every violation joined into one error.
func (v *ConfigValidator) Validate() error {
	v.validateManifest()
	v.validateConversation()
	v.validateHandset()
	v.validateCapture()
	v.validatePlayback()
	v.validateSession()
	v.validateStateStore()
	if err := v.config.Spec.Logging.Validate(); err != nil {
		v.errors = append(v.errors, err)
	}

	if len(v.errors) > 0 {
		return fmt.Errorf("configuration validation failed with %d errors: %w", len(v.errors), errors.Join(v.errors...))
	}
	return nil
}

// GetWarnings returns all validation warnings
func (v *ConfigValidator) GetWarnings() []string {
	return v.warns
}

func (v *ConfigValidator) fail(field, message, value string) {
	v.errors = append(v.errors, &ValidationError{Field: field, Message: message, Value: value})
}

func (v *ConfigValidator) validateManifest() {
	if v.config.APIVersion != APIVersion {
		v.fail("apiVersion", "must be "+APIVersion, v.config.APIVersion)
	}
	if v.config.Kind != Kind {
		v.fail("kind", "must be "+Kind, v.config.Kind)
	}
}

func (v *ConfigValidator) validateConversation() {
	c := &v.config.Spec.Conversation
	if err := c.TurnDetectionConfig().Validate(); err != nil {
		v.fail("conversation.turnDetection", err.Error(), "")
	}
	v.validateReconnect("conversation.reconnect", c.Reconnect)
	if c.APIKeyEnv != "" && os.Getenv(c.APIKeyEnv) == "" {
		v.warns = append(v.warns, fmt.Sprintf("API key variable %s is not set", c.APIKeyEnv))
	}
}

func (v *ConfigValidator) validateHandset() {
	h := &v.config.Spec.Handset
	if !h.HandsetEnabled() {
		if boolOr(h.StatusMessages, false) {
			v.warns = append(v.warns, "handset.statusMessages has no effect while the handset is disabled")
		}
		return
	}
	v.validateReconnect("handset.reconnect", h.Reconnect)
}

func (v *ConfigValidator) validateReconnect(field string, r ReconnectSpec) {
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		v.fail(field, "delays must not be negative", "")
	}
	if r.MaxDelay < r.InitialDelay {
		v.fail(field+".maxDelay", "must not be shorter than initialDelay", r.MaxDelay.String())
	}
}

func (v *ConfigValidator) validateCapture() {
	c := &v.config.Spec.Capture
	hasFile := false
	for _, arg := range c.Args {
		if strings.Contains(arg, "{file}") {
			hasFile = true
		}
	}
	if !hasFile {
		v.fail("capture.args", "must contain the {file} placeholder", strings.Join(c.Args, " "))
	}
	if c.PollInterval <= 0 {
		v.fail("capture.pollInterval", "must be positive", c.PollInterval.String())
	}
	if c.RestartDelay < 0 {
		v.fail("capture.restartDelay", "must not be negative", c.RestartDelay.String())
	}
}

func (v *ConfigValidator) validatePlayback() {
	p := &v.config.Spec.Playback
	if p.StallTimeout <= 0 {
		v.fail("playback.stallTimeout", "must be positive", p.StallTimeout.String())
	}
	if p.DrainTimeout <= 0 {
		v.fail("playback.drainTimeout", "must be positive", p.DrainTimeout.String())
	}
}

func (v *ConfigValidator) validateSession() {
	s := &v.config.Spec.Session
	if s.QuietInterval <= 0 {
		v.fail("session.quietInterval", "must be positive", s.QuietInterval.String())
	} else if s.QuietInterval.Std() < minSensibleQuiet || s.QuietInterval.Std() > maxSensibleQuiet {
		v.warns = append(v.warns, fmt.Sprintf(
			"session.quietInterval %s is outside %s..%s; trailing audio may be cut or recording delayed",
			s.QuietInterval, minSensibleQuiet, maxSensibleQuiet))
	}
	if s.EndSessionGrace < 0 {
		v.fail("session.endSessionGrace", "must not be negative", s.EndSessionGrace.String())
	}

	for i, step := range s.Termination.Steps {
		field := fmt.Sprintf("session.termination.steps[%d]", i)
		if _, ok := signalByName(step.Signal); !ok {
			v.fail(field+".signal", "unknown signal", step.Signal)
		}
		if step.Grace <= 0 {
			v.fail(field+".grace", "must be positive", step.Grace.String())
		}
	}
	if n := len(s.Termination.Steps); n > 0 && s.Termination.Steps[n-1].Signal != "SIGKILL" {
		v.warns = append(v.warns, "termination ladder does not end with SIGKILL; a stuck device process relies on the group sweep")
	}
}

func (v *ConfigValidator) validateStateStore() {
	s := &v.config.Spec.StateStore
	switch s.Type {
	case StateStoreMemory:
	case StateStoreRedis:
		if s.Addr == "" {
			v.fail("stateStore.addr", "required for the redis store", "")
		}
	default:
		v.fail("stateStore.type", "must be one of: memory, redis", s.Type)
	}
	if s.TTL < 0 {
		v.fail("stateStore.ttl", "must not be negative", s.TTL.String())
	}
}

// Validate checks semantic constraints. Defaults should be applied first.
func (c *BridgeConfig) Validate() error {
	return NewConfigValidator(c).Validate()
}
