package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Brownie44l1/indofood-api/internal/frame"
)

// Config is the server configuration. Flags win over environment
// variables, which win over defaults.
type Config struct {
	Addr         string
	DatasetPath  string
	ModelPath    string
	MetadataPath string
	LabelsPath   string
	ORTLibrary   string
	Decode       frame.Mode
	LogLevel     string
	Pretty       bool

	// MaxSessions caps live tracking sessions, 0 for no limit.
	MaxSessions int
	// SessionIdleTTL closes sessions nobody has touched for this long,
	// 0 to keep them until deleted.
	SessionIdleTTL time.Duration
}

func defaults() (Config, error) {
	maxSessions, err := strconv.Atoi(env("MAX_SESSIONS", "8"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
	}
	ttl, err := time.ParseDuration(env("SESSION_IDLE_TTL", "5m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SESSION_IDLE_TTL: %w", err)
	}

	return Config{
		Addr:         ":" + env("PORT", "8080"),
		DatasetPath:  env("DATASET_PATH", "Indonesian_Food_Dataset.csv"),
		ModelPath:    env("MODEL_PATH", filepath.Join("models", "ingredient_model.onnx")),
		MetadataPath: env("MODEL_METADATA_PATH", filepath.Join("models", "model_metadata.json")),
		LabelsPath:   env("LABELS_PATH", filepath.Join("models", "labels.txt")),
		ORTLibrary:   env("ONNXRUNTIME_LIB", ""),
		Decode:       frame.Mode(env("FRAME_DECODE", string(frame.ModeDirect))),
		LogLevel:     env("LOG_LEVEL", "info"),

		MaxSessions:    maxSessions,
		SessionIdleTTL: ttl,
	}, nil
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// Load parses args (without the program name). Relative file paths are
// resolved against the project root.
func Load(args []string) (Config, error) {
	cfg, err := defaults()
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("indofood-api", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.DatasetPath, "data", cfg.DatasetPath, "recipe CSV dataset")
	fs.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "ONNX ingredient classifier")
	fs.StringVar(&cfg.MetadataPath, "metadata", cfg.MetadataPath, "model metadata JSON")
	fs.StringVar(&cfg.LabelsPath, "labels", cfg.LabelsPath, "label file, one per line")
	fs.StringVar(&cfg.ORTLibrary, "ort-lib", cfg.ORTLibrary, "path to the onnxruntime shared library")
	decode := fs.String("decode", string(cfg.Decode), "frame decode path: direct or jpeg")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "human readable console logs")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "live tracking session limit, 0 for none")
	fs.DurationVar(&cfg.SessionIdleTTL, "session-ttl", cfg.SessionIdleTTL, "close tracking sessions idle this long, 0 to disable")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.MaxSessions < 0 || cfg.SessionIdleTTL < 0 {
		return Config{}, fmt.Errorf("session limit and idle TTL must not be negative")
	}

	mode, err := frame.ParseMode(*decode)
	if err != nil {
		return Config{}, fmt.Errorf("invalid -decode: %w", err)
	}
	cfg.Decode = mode

	root := ProjectRoot()
	cfg.DatasetPath = Resolve(root, cfg.DatasetPath)
	cfg.ModelPath = Resolve(root, cfg.ModelPath)
	cfg.MetadataPath = Resolve(root, cfg.MetadataPath)
	cfg.LabelsPath = Resolve(root, cfg.LabelsPath)

	return cfg, nil
}

// ProjectRoot walks up from the working directory to the nearest go.mod.
// It returns "." when there is none.
func ProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

// Resolve joins a relative path onto root.
func Resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
