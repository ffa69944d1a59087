// Package config loads handler-dispatch and PLL tuning defaults from a
// TOML file, falling back to an embedded default the first time it runs.
// Adapted from the teacher's config.Initialize (drive/image selection
// for a live USB adapter), repurposed here for tuning knobs this module
// actually has: the analyser's handler try-order bias and the stream
// PLL's adjustment percentages, since there is no live drive to select.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

//go:embed mfmdisk.toml
var defaultConfigData []byte

// Package-level state, populated by Initialize, mirroring the teacher's
// global DriveName/Cyls/Heads/... variables.
var (
	DriveName         string
	DriveRPM          int
	DriveBitRateKbps  int
	PLLPeriodAdjPct   int
	PLLPhaseAdjPct    int
	PLLClockMaxAdjPct int
	HandlerOrder      []string
)

// Config is the decoded shape of the TOML file.
type Config struct {
	Default string  `toml:"default"`
	Drive   []Drive `toml:"drive"`
	PLL     PLL     `toml:"pll"`

	HandlerOrder []string `toml:"handler_order"`
}

// Drive describes one named drive/media profile: nominal RPM and
// bitrate. stream.Open takes RPMs only (a drive and a data RPM); the
// bitrate is not passed to the stream.
type Drive struct {
	Name        string `toml:"name"`
	RPM         int    `toml:"rpm"`
	BitRateKbps int    `toml:"bitrate_kbps"`
}

// PLL holds the stream.Stream tuning knobs spec §1's ambient-stack
// expansion calls out by name.
type PLL struct {
	PeriodAdjPct   int `toml:"pll_period_adj_pct"`
	PhaseAdjPct    int `toml:"pll_phase_adj_pct"`
	ClockMaxAdjPct int `toml:"pll_clock_max_adj_pct"`
}

// configPath determines the config file path based on the operating
// system, same Windows-vs-Unix branching as the teacher's configPath.
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "mfmdisk")
	default:
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".mfmdisk"), nil
}

// Initialize loads and validates the configuration file, creating it
// from the embedded default on first run, and populates the package
// globals from the named default drive profile.
func Initialize() error {
	path, err := configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		configDir := filepath.Dir(path)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}
		if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
			return fmt.Errorf("failed to create default config file at %s: %w", path, err)
		}
	}

	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
	}

	if conf.Default == "" {
		return errors.New("`default` key is missing or empty in config")
	}

	var foundDrive *Drive
	for i := range conf.Drive {
		if conf.Drive[i].Name == conf.Default {
			foundDrive = &conf.Drive[i]
			break
		}
	}
	if foundDrive == nil {
		return fmt.Errorf("default drive %q not found in drive array", conf.Default)
	}
	if foundDrive.RPM <= 0 {
		return fmt.Errorf("drive %q has invalid rpm: %d (must be positive)", conf.Default, foundDrive.RPM)
	}
	if foundDrive.BitRateKbps <= 0 {
		return fmt.Errorf("drive %q has invalid bitrate_kbps: %d (must be positive)", conf.Default, foundDrive.BitRateKbps)
	}
	if len(conf.HandlerOrder) == 0 {
		return errors.New("`handler_order` is missing or empty in config")
	}

	DriveName = conf.Default
	DriveRPM = foundDrive.RPM
	DriveBitRateKbps = foundDrive.BitRateKbps
	PLLPeriodAdjPct = conf.PLL.PeriodAdjPct
	PLLPhaseAdjPct = conf.PLL.PhaseAdjPct
	PLLClockMaxAdjPct = conf.PLL.ClockMaxAdjPct
	HandlerOrder = append([]string(nil), conf.HandlerOrder...)

	return nil
}

// OrderedHandlerNames returns HandlerOrder followed by every name in all
// (in all's own order) not already present in HandlerOrder, giving the
// analyser a title-specific-first, generic-fallback-last probe order
// per spec §4.6 without requiring every handler to appear in the config
// file.
func OrderedHandlerNames(all []string) []string {
	seen := make(map[string]bool, len(HandlerOrder))
	out := make([]string, 0, len(all))
	for _, name := range HandlerOrder {
		seen[name] = true
		out = append(out, name)
	}
	for _, name := range all {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}
