// Package config loads and validates lanetrace configuration.
//
// A configuration file is YAML. Missing fields keep their defaults and
// unknown fields are rejected. The merged result is validated against an
// embedded CUE schema, so constraint violations report the offending path.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lanetrace/internal/cpuset"
	"github.com/roach88/lanetrace/internal/lane"
	"github.com/roach88/lanetrace/internal/loadgen"
	"github.com/roach88/lanetrace/internal/tracebuf"
)

//go:embed schema.cue
var schemaCUE string

// DefaultLaneSize is the per-lane capacity used when none is configured.
const DefaultLaneSize = 64 * 1024

// MaxLanes is the largest lane count the schema accepts.
const MaxLanes = 1024

// Config is the full lanetrace configuration.
type Config struct {
	Lanes    int            `yaml:"lanes" json:"lanes"`
	LaneSize int            `yaml:"lane_size" json:"lane_size"`
	Policy   string         `yaml:"policy" json:"policy"`
	Recorder RecorderConfig `yaml:"recorder" json:"recorder"`
	Load     LoadConfig     `yaml:"load" json:"load"`
}

// RecorderConfig configures the drain loop.
type RecorderConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// LoadConfig configures the synthetic writers.
type LoadConfig struct {
	EventsPerLane int    `yaml:"events_per_lane" json:"events_per_lane"`
	PayloadSize   int    `yaml:"payload_size" json:"payload_size"`
	Pause         string `yaml:"pause" json:"pause"`
	Pin           bool   `yaml:"pin" json:"pin"`
	Sessions      int    `yaml:"sessions" json:"sessions"`
}

// ValidationError reports a configuration rejected by the schema or by a
// semantic check.
type ValidationError struct {
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a ValidationError.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Default returns the built-in configuration: one lane per usable CPU.
func Default() Config {
	return Config{
		Lanes:    min(cpuset.Count(), MaxLanes),
		LaneSize: DefaultLaneSize,
		Policy:   lane.DropNewest.String(),
		Recorder: RecorderConfig{BatchSize: 256},
		Load: LoadConfig{
			EventsPerLane: 1000,
			PayloadSize:   32,
			Pause:         "0s",
			Sessions:      1,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &ValidationError{Err: fmt.Errorf("decode yaml: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Err: err}
	}

	if _, err := time.ParseDuration(c.Load.Pause); err != nil {
		return &ValidationError{Err: fmt.Errorf("load.pause: %w", err)}
	}
	return nil
}

// Buffer returns the trace buffer configuration.
func (c Config) Buffer() (tracebuf.Config, error) {
	policy, err := lane.ParsePolicy(c.Policy)
	if err != nil {
		return tracebuf.Config{}, &ValidationError{Err: err}
	}
	return tracebuf.Config{Lanes: c.Lanes, LaneSize: c.LaneSize, Policy: policy}, nil
}

// Loadgen returns the load generator configuration.
func (c Config) Loadgen() loadgen.Config {
	pause, _ := time.ParseDuration(c.Load.Pause)
	return loadgen.Config{
		EventsPerLane: c.Load.EventsPerLane,
		PayloadSize:   c.Load.PayloadSize,
		Pause:         pause,
		Pin:           c.Load.Pin,
	}
}
