// Package config provides configuration management for opportune.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker.
	DefaultWorkerPort = 37800
	// DefaultWorkerHost is the default bind address.
	DefaultWorkerHost = "127.0.0.1"
	// DefaultDBDriver is the default store backend.
	DefaultDBDriver = "sqlite"
	// DefaultClassifier is the default classifier backend.
	DefaultClassifier = "onnx"
	// DefaultProfilingVideo is the calibration video id.
	DefaultProfilingVideo = 1
	// DefaultWindowSize is the number of samples per scoring window.
	DefaultWindowSize = 50
)

// Pipeline timing defaults.
const (
	DefaultStep        = 5 * time.Second
	DefaultLookback    = 15 * time.Second
	DefaultWarmup      = 15 * time.Second
	DefaultBaseline    = 5 * time.Second
	DefaultClearMargin = 20 * time.Second
	DefaultRetention   = 5 * time.Minute
	DefaultPoll        = time.Second
)

// DefaultModelFiles are the per-variant classifier files, indexed by cluster.
var DefaultModelFiles = []string{"cluster_0.onnx", "cluster_1.onnx"}

// Config holds all settings for opportune.
type Config struct {
	WorkerHost     string
	WorkerPort     int
	DBDriver       string
	DBPath         string
	DBDSN          string
	MaxConns       int
	SignalLog      string
	JournalDir     string
	ModelDir       string
	ModelFiles     []string
	OnnxLibrary    string
	Classifier     string
	ClassifierURL  string
	CatalogPath    string
	WatchDir       string
	WindowSize     int
	ProfilingVideo int
	Step           time.Duration
	Lookback       time.Duration
	Warmup         time.Duration
	Baseline       time.Duration
	ClearMargin    time.Duration
	Retention      time.Duration
	Poll           time.Duration
	LogJSON        bool
	Debug          bool
}

var (
	global     *Config
	globalOnce sync.Once
)

// DataDir returns the data directory, honouring OPPORTUNE_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("OPPORTUNE_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".opportune")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "opportune.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// Default returns the default configuration.
func Default() *Config {
	dataDir := DataDir()
	files := make([]string, len(DefaultModelFiles))
	copy(files, DefaultModelFiles)
	return &Config{
		WorkerHost:     DefaultWorkerHost,
		WorkerPort:     DefaultWorkerPort,
		DBDriver:       DefaultDBDriver,
		DBPath:         DBPath(),
		MaxConns:       4,
		JournalDir:     filepath.Join(dataDir, "journal"),
		ModelDir:       filepath.Join(dataDir, "models"),
		ModelFiles:     files,
		Classifier:     DefaultClassifier,
		CatalogPath:    filepath.Join(dataDir, "videos.yaml"),
		WindowSize:     DefaultWindowSize,
		ProfilingVideo: DefaultProfilingVideo,
		Step:           DefaultStep,
		Lookback:       DefaultLookback,
		Warmup:         DefaultWarmup,
		Baseline:       DefaultBaseline,
		ClearMargin:    DefaultClearMargin,
		Retention:      DefaultRetention,
		Poll:           DefaultPoll,
	}
}

// EnsureDataDir creates the data directory if needed.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file when none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	def := Default()
	settings := map[string]any{
		"OPPORTUNE_WORKER_HOST":     def.WorkerHost,
		"OPPORTUNE_WORKER_PORT":     def.WorkerPort,
		"OPPORTUNE_DB_DRIVER":       def.DBDriver,
		"OPPORTUNE_CLASSIFIER":      def.Classifier,
		"OPPORTUNE_WINDOW_SIZE":     def.WindowSize,
		"OPPORTUNE_PROFILING_VIDEO": def.ProfilingVideo,
		"OPPORTUNE_MODEL_FILES":     strings.Join(def.ModelFiles, ","),
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json over the defaults and then applies environment
// overrides. A missing or unreadable file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		var settings map[string]any
		if json.Unmarshal(data, &settings) == nil {
			cfg.apply(func(key string) (any, bool) {
				v, ok := settings[key]
				return v, ok
			})
		}
	}

	cfg.apply(func(key string) (any, bool) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil, false
		}
		return v, true
	})

	return cfg, nil
}

func (c *Config) apply(lookup func(string) (any, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			if s, ok := v.(string); ok && s != "" {
				*dst = s
			}
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, ok := toInt(v); ok && n > 0 {
				*dst = n
			}
		}
	}
	ms := func(key string, dst *time.Duration) {
		var n int
		num(key, &n)
		if n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			switch t := v.(type) {
			case bool:
				*dst = t
			case string:
				if b, err := strconv.ParseBool(t); err == nil {
					*dst = b
				}
			}
		}
	}

	str("OPPORTUNE_WORKER_HOST", &c.WorkerHost)
	num("OPPORTUNE_WORKER_PORT", &c.WorkerPort)
	str("OPPORTUNE_DB_DRIVER", &c.DBDriver)
	str("OPPORTUNE_DB_PATH", &c.DBPath)
	str("OPPORTUNE_DB_DSN", &c.DBDSN)
	num("OPPORTUNE_DB_MAX_CONNS", &c.MaxConns)
	str("OPPORTUNE_SIGNAL_LOG", &c.SignalLog)
	str("OPPORTUNE_JOURNAL_DIR", &c.JournalDir)
	str("OPPORTUNE_MODEL_DIR", &c.ModelDir)
	str("OPPORTUNE_ONNX_LIBRARY", &c.OnnxLibrary)
	str("OPPORTUNE_CLASSIFIER", &c.Classifier)
	str("OPPORTUNE_CLASSIFIER_URL", &c.ClassifierURL)
	str("OPPORTUNE_CATALOG", &c.CatalogPath)
	str("OPPORTUNE_WATCH_DIR", &c.WatchDir)
	num("OPPORTUNE_WINDOW_SIZE", &c.WindowSize)
	num("OPPORTUNE_PROFILING_VIDEO", &c.ProfilingVideo)
	ms("OPPORTUNE_STEP_MS", &c.Step)
	ms("OPPORTUNE_LOOKBACK_MS", &c.Lookback)
	ms("OPPORTUNE_WARMUP_MS", &c.Warmup)
	ms("OPPORTUNE_BASELINE_MS", &c.Baseline)
	ms("OPPORTUNE_CLEAR_MARGIN_MS", &c.ClearMargin)
	ms("OPPORTUNE_RETENTION_MS", &c.Retention)
	ms("OPPORTUNE_POLL_MS", &c.Poll)
	flag("OPPORTUNE_LOG_JSON", &c.LogJSON)
	flag("OPPORTUNE_DEBUG", &c.Debug)

	var files string
	str("OPPORTUNE_MODEL_FILES", &files)
	if list := splitTrim(files); len(list) > 0 {
		c.ModelFiles = list
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

// splitTrim splits a comma-separated list and drops empty entries.
func splitTrim(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		global = cfg
	})
	return global
}

// GetWorkerPort returns the worker port, preferring a valid OPPORTUNE_WORKER_PORT.
func GetWorkerPort() int {
	if v := os.Getenv("OPPORTUNE_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().WorkerPort
}

// ModelPath returns the classifier file for a variant index.
func (c *Config) ModelPath(variant int) (string, error) {
	if variant < 0 || variant >= len(c.ModelFiles) {
		return "", errors.New("no model file for variant " + strconv.Itoa(variant))
	}
	name := c.ModelFiles[variant]
	if filepath.IsAbs(name) {
		return name, nil
	}
	return filepath.Join(c.ModelDir, name), nil
}
