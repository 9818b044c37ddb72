package addrlease

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/addrlease/internal/allocator"
)

const (
	// DefaultLeaseDuration is the lifetime of every lease unless configured.
	DefaultLeaseDuration = allocator.DefaultLeaseDuration
	// DefaultScanLimit scans the whole address space once per allocation.
	DefaultScanLimit = uint64(0)
	// DefaultSweeperInterval disables the background sweeper; expired leases
	// are then only reclaimed when ASK or STATUS runs into them.
	DefaultSweeperInterval = time.Duration(0)
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
	// DefaultConfigFileName is looked up inside DefaultConfigDir.
	DefaultConfigFileName = "config.yaml"
	// MaxScanLimit is the size of the IPv4 address space.
	MaxScanLimit = uint64(1) << 32
)

// Config captures the tunables for an addrlease service.
type Config struct {
	// LeaseDuration is the fixed lifetime granted by ASK and RENEW.
	LeaseDuration time.Duration
	// ScanLimit caps the candidates examined per allocation (0 = all).
	ScanLimit uint64
	// SweeperInterval enables a periodic sweep of expired leases when > 0.
	SweeperInterval time.Duration
	// Prompt toggles the interactive prompt in the shell.
	Prompt bool

	MetricsListen          string
	PprofListen            string
	EnableProfilingMetrics bool
	OTLPEndpoint           string
	LogLevel               string
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		LeaseDuration:   DefaultLeaseDuration,
		ScanLimit:       DefaultScanLimit,
		SweeperInterval: DefaultSweeperInterval,
		Prompt:          true,
		MetricsListen:   DefaultMetricsListen,
		PprofListen:     DefaultPprofListen,
		LogLevel:        DefaultLogLevel,
	}
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.LeaseDuration == 0 {
		c.LeaseDuration = DefaultLeaseDuration
	} else if c.LeaseDuration < 0 {
		return fmt.Errorf("config: lease duration must be > 0")
	}
	if c.LeaseDuration < time.Second {
		return fmt.Errorf("config: lease duration must be at least 1s (got %s)", c.LeaseDuration)
	}
	if c.ScanLimit > MaxScanLimit {
		return fmt.Errorf("config: scan limit must be <= %d", MaxScanLimit)
	}
	if c.SweeperInterval < 0 {
		return fmt.Errorf("config: sweeper interval must be >= 0")
	}
	c.MetricsListen = strings.TrimSpace(c.MetricsListen)
	c.PprofListen = strings.TrimSpace(c.PprofListen)
	c.OTLPEndpoint = strings.TrimSpace(c.OTLPEndpoint)
	if c.EnableProfilingMetrics && c.MetricsListen == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	if c.OTLPEndpoint != "" {
		if _, err := resolveOTLPTarget(c.OTLPEndpoint); err != nil {
			return fmt.Errorf("config: otlp endpoint: %w", err)
		}
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return nil
}

// DefaultConfigDir returns $ADDRLEASE_CONFIG_DIR or $HOME/.addrlease.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("ADDRLEASE_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".addrlease"), nil
}
