// Package config loads the engine tuning parameters.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Tuning represents the tunable constants of the tracking engine. Fields are
// pointers so a partial JSON file only overrides what it names; the Get*
// accessors supply defaults for everything else.
type Tuning struct {
	// History cap per device (samples retained before FIFO eviction).
	HistoryCap *int `json:"history_cap,omitempty"`

	// Activity threshold in seconds; a device seen more recently than this
	// is classified as tracking, otherwise lost.
	ActivitySeconds *float64 `json:"activity_seconds,omitempty"`

	// Path-loss model calibration. Reference is the expected RSSI at one
	// metre, Exponent the environment path-loss exponent.
	PathLossReference *float64 `json:"path_loss_reference,omitempty"`
	PathLossExponent  *float64 `json:"path_loss_exponent,omitempty"`

	// Smoothing window (sample count) for the distance estimate.
	SmoothingWindow *int `json:"smoothing_window,omitempty"`

	// Serial link speed for the sniffer module.
	BaudRate *int `json:"baud_rate,omitempty"`
}

// Load reads a Tuning from a JSON file. Fields omitted from the file retain
// their defaults, so partial configs are safe.
func Load(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Tuning{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any set values are usable.
func (c *Tuning) Validate() error {
	if c.HistoryCap != nil && *c.HistoryCap <= 0 {
		return fmt.Errorf("history_cap must be positive, got %d", *c.HistoryCap)
	}
	if c.ActivitySeconds != nil && *c.ActivitySeconds <= 0 {
		return fmt.Errorf("activity_seconds must be positive, got %f", *c.ActivitySeconds)
	}
	if c.PathLossExponent != nil && *c.PathLossExponent <= 0 {
		return fmt.Errorf("path_loss_exponent must be positive, got %f", *c.PathLossExponent)
	}
	if c.SmoothingWindow != nil && *c.SmoothingWindow <= 0 {
		return fmt.Errorf("smoothing_window must be positive, got %d", *c.SmoothingWindow)
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	return nil
}

// GetHistoryCap returns the history cap or the default.
func (c *Tuning) GetHistoryCap() int {
	if c.HistoryCap == nil {
		return 500
	}
	return *c.HistoryCap
}

// GetActivitySeconds returns the activity threshold or the default.
func (c *Tuning) GetActivitySeconds() float64 {
	if c.ActivitySeconds == nil {
		return 2.0
	}
	return *c.ActivitySeconds
}

// GetPathLossReference returns the 1 m reference RSSI or the default.
func (c *Tuning) GetPathLossReference() float64 {
	if c.PathLossReference == nil {
		return -45.0
	}
	return *c.PathLossReference
}

// GetPathLossExponent returns the path-loss exponent or the default.
func (c *Tuning) GetPathLossExponent() float64 {
	if c.PathLossExponent == nil {
		return 2.5
	}
	return *c.PathLossExponent
}

// GetSmoothingWindow returns the distance smoothing window or the default.
func (c *Tuning) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 10
	}
	return *c.SmoothingWindow
}

// GetBaudRate returns the serial baud rate or the default.
func (c *Tuning) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}
