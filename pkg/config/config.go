package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds engine configuration loaded from YAML or built from defaults.
type Config struct {
	// DataDir is the root directory for database files.
	DataDir string `yaml:"data_dir"`

	// BufferPoolPages is the number of pages the buffer pool may hold.
	BufferPoolPages int `yaml:"buffer_pool_pages"`

	// PageSize is the default page size in bytes for new files.
	PageSize int `yaml:"page_size"`

	// ParallelThreads sets the executor worker count. Accepts an integer
	// ("8") or the form "CPU - N" which resolves against runtime.NumCPU.
	// Empty means all cores.
	ParallelThreads string `yaml:"parallel_threads"`

	// CachePages configures per-driver page cache counts.
	CachePages struct {
		Btree    int `yaml:"btree"`
		FullText int `yaml:"fulltext"`
		Array    int `yaml:"array"`
	} `yaml:"cache_pages"`

	// DetectDeadlock enables the wait-for-graph deadlock detector.
	DetectDeadlock bool `yaml:"detect_deadlock"`

	// LockTimeoutMillis is the default lock wait bound; 0 means no wait,
	// negative means wait forever.
	LockTimeoutMillis int `yaml:"lock_timeout_millis"`

	// MetricsAddr is the listen address for the Prometheus endpoint
	// (empty disables it).
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// LogComponents overrides the log level for individual engine
	// components, e.g. buffer: debug.
	LogComponents map[string]string `yaml:"log_components"`
}

// Default returns a configuration with production defaults.
func Default() *Config {
	cfg := &Config{
		DataDir:           "/var/lib/quarry",
		BufferPoolPages:   4096,
		PageSize:          8192,
		DetectDeadlock:    false,
		LockTimeoutMillis: -1,
		LogLevel:          "info",
		LogJSON:           true,
	}
	cfg.CachePages.Btree = 512
	cfg.CachePages.FullText = 512
	cfg.CachePages.Array = 256
	return cfg
}

// Load reads a YAML configuration file, applying defaults for absent keys.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.PageSize < 4096 || c.PageSize > 65536 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page_size must be a power of two in [4096, 65536], got %d", c.PageSize)
	}
	if c.BufferPoolPages < 16 {
		return fmt.Errorf("buffer_pool_pages must be at least 16, got %d", c.BufferPoolPages)
	}
	if _, err := ParseParallelThreads(c.ParallelThreads); err != nil {
		return err
	}
	return nil
}

// Workers resolves the executor worker count.
func (c *Config) Workers() int {
	n, err := ParseParallelThreads(c.ParallelThreads)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// ParseParallelThreads parses the parallel_threads syntax: "", "N", or
// "CPU - N". An empty string, a bare "CPU" or a non-positive N gives all
// cores; "CPU - N" is clamped to at least 1; any other input is an error.
func ParseParallelThreads(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return runtime.NumCPU(), nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return runtime.NumCPU(), nil
		}
		return n, nil
	}
	rest, ok := strings.CutPrefix(s, "CPU")
	if !ok {
		return 0, fmt.Errorf("invalid parallel_threads %q", s)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return runtime.NumCPU(), nil
	}
	sub, ok := strings.CutPrefix(rest, "-")
	if !ok {
		return 0, fmt.Errorf("invalid parallel_threads %q", s)
	}
	m, err := strconv.Atoi(strings.TrimSpace(sub))
	if err != nil {
		return 0, fmt.Errorf("invalid parallel_threads %q: %w", s, err)
	}
	n := runtime.NumCPU() - m
	if n <= 0 {
		n = 1
	}
	return n, nil
}
