// Package feeders provides configuration feeders for reading framework
// configuration from YAML, TOML and JSON files and from environment variables.
package feeders

import (
	"fmt"
	"os"
	"reflect"
)

// Feeder populates a configuration structure from one source.
type Feeder interface {
	Feed(target any) error
}

// KeyFeeder can populate a target from one top-level key of its source.
type KeyFeeder interface {
	Feeder
	FeedKey(key string, target any) error
}

// DebugLogger is the subset of a structured logger feeders report to.
type DebugLogger interface {
	Debug(msg string, args ...any)
}

// verbose carries the optional debug logging shared by all feeders.
type verbose struct {
	enabled bool
	logger  DebugLogger
}

// SetVerboseDebug enables or disables verbose debug logging.
func (v *verbose) SetVerboseDebug(enabled bool, logger DebugLogger) {
	v.enabled = enabled
	v.logger = logger
	if enabled && logger != nil {
		logger.Debug("Verbose feeder debugging enabled")
	}
}

func (v *verbose) debug(msg string, args ...any) {
	if v.enabled && v.logger != nil {
		v.logger.Debug(msg, args...)
	}
}

// fileFeed reads path and decodes it into target with unmarshal.
func fileFeed(path, format string, target any, unmarshal func([]byte, any) error) error {
	if target == nil || reflect.TypeOf(target).Kind() != reflect.Pointer {
		return fmt.Errorf("%w, got %T", ErrInvalidTarget, target)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s file %s: %w", format, path, err)
	}
	if err := unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse %s file %s: %w", format, path, err)
	}
	return nil
}

// feedKey is a common helper function for extracting specific keys from config files
func feedKey(
	feeder Feeder,
	key string,
	target any,
	marshalFunc func(any) ([]byte, error),
	unmarshalFunc func([]byte, any) error,
	fileType string,
) error {
	var allData map[string]any

	if err := feeder.Feed(&allData); err != nil {
		return fmt.Errorf("failed to read %s: %w", fileType, err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}

	// Remarshal and unmarshal to handle type conversions
	valueBytes, err := marshalFunc(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s data: %w", fileType, err)
	}

	if err = unmarshalFunc(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", fileType, err)
	}

	return nil
}
