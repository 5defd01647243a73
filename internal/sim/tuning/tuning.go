package tuning

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"cubeyard.io/internal/sim/world/policy/rules"
)

type Tuning struct {
	MoveBound            float64 `yaml:"move_bound"`
	UsernameMaxLen       int     `yaml:"username_max_len"`
	ChatMaxLen           int     `yaml:"chat_max_len"`
	AnimationMaxLen      int     `yaml:"animation_max_len"`
	BlockPayloadMaxBytes int     `yaml:"block_payload_max_bytes"`
	MessageCapacity      int     `yaml:"message_capacity"`
	AdminMoveStep        float64 `yaml:"admin_move_step"`

	OutQueue      int  `yaml:"out_queue"`
	RejectNotices bool `yaml:"reject_notices"`

	// Per-connection inbound limiter (frames per second, burst).
	InboundRatePerSec float64 `yaml:"inbound_rate_per_sec"`
	InboundBurst      int     `yaml:"inbound_burst"`
}

func Defaults() Tuning {
	l := rules.DefaultLimits()
	return Tuning{
		MoveBound:            l.MoveBound,
		UsernameMaxLen:       l.UsernameMaxLen,
		ChatMaxLen:           l.ChatMaxLen,
		AnimationMaxLen:      l.AnimationMaxLen,
		BlockPayloadMaxBytes: l.BlockPayloadMaxBytes,
		MessageCapacity:      100,
		AdminMoveStep:        1,
		OutQueue:             256,
		InboundRatePerSec:    60,
		InboundBurst:         120,
	}
}

// Load overlays the YAML file at path on Defaults. An empty path or a missing
// file yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.MoveBound <= 0:
		return fmt.Errorf("move_bound must be > 0")
	case t.UsernameMaxLen <= 0, t.ChatMaxLen <= 0, t.AnimationMaxLen <= 0:
		return fmt.Errorf("length limits must be > 0")
	case t.BlockPayloadMaxBytes <= 0:
		return fmt.Errorf("block_payload_max_bytes must be > 0")
	case t.MessageCapacity <= 0:
		return fmt.Errorf("message_capacity must be > 0")
	case t.AdminMoveStep <= 0:
		return fmt.Errorf("admin_move_step must be > 0")
	case t.OutQueue < 2:
		return fmt.Errorf("out_queue must be >= 2")
	case t.InboundRatePerSec < 0 || t.InboundBurst < 0:
		return fmt.Errorf("inbound limits must be >= 0")
	}
	return nil
}

func (t Tuning) Limits() rules.Limits {
	return rules.Limits{
		MoveBound:            t.MoveBound,
		UsernameMaxLen:       t.UsernameMaxLen,
		ChatMaxLen:           t.ChatMaxLen,
		AnimationMaxLen:      t.AnimationMaxLen,
		BlockPayloadMaxBytes: t.BlockPayloadMaxBytes,
	}
}
