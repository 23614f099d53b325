// Command tracksim replays raw NV21 frames from disk through a tracking
// session at a fixed frame rate, standing in for the phone camera.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/indofood-api/internal/config"
	"github.com/Brownie44l1/indofood-api/internal/frame"
	"github.com/Brownie44l1/indofood-api/internal/model"
	"github.com/Brownie44l1/indofood-api/internal/tracking"
)

var (
	inputDir = flag.String("input", "frames", "directory of raw NV21 frames")
	pattern  = flag.String("pattern", "*.nv21", "frame file glob")
	width    = flag.Int("width", 640, "frame width")
	height   = flag.Int("height", 480, "frame height")
	fps      = flag.Float64("fps", 5, "frames offered per second")
	loops    = flag.Int("loops", 1, "times to replay the directory")
	report   = flag.String("report", "", "write a YAML run report to this file")

	modelPath = flag.String("model", filepath.Join("models", "ingredient_model.onnx"), "ONNX ingredient classifier")
	metaPath  = flag.String("metadata", filepath.Join("models", "model_metadata.json"), "model metadata JSON")
	labelPath = flag.String("labels", filepath.Join("models", "labels.txt"), "label file")
	ortLib    = flag.String("ort-lib", os.Getenv("ONNXRUNTIME_LIB"), "onnxruntime shared library")
	decode    = flag.String("decode", string(frame.ModeDirect), "frame decode path: direct or jpeg")
	logLevel  = flag.String("log-level", "info", "log level")
	pretty    = flag.Bool("pretty", true, "human readable console logs")
)

// RunReport is written at the end of a run.
type RunReport struct {
	Run struct {
		Started  string  `yaml:"started"`
		Duration float64 `yaml:"duration_seconds"`
		Input    string  `yaml:"input"`
		Frames   int     `yaml:"frames"`
		Loops    int     `yaml:"loops"`
		FPS      float64 `yaml:"fps"`
		Decode   string  `yaml:"decode"`
	} `yaml:"run"`
	Stats struct {
		Offered       int     `yaml:"offered"`
		Accepted      uint64  `yaml:"accepted"`
		Dropped       uint64  `yaml:"dropped"`
		Failed        uint64  `yaml:"failed"`
		Completed     uint64  `yaml:"completed"`
		DropRate      float64 `yaml:"drop_rate_percent"`
		LastInference string  `yaml:"last_inference"`
	} `yaml:"stats"`
	LastResult string `yaml:"last_result"`
}

func main() {
	flag.Parse()

	if err := config.SetupLogging(*logLevel, *pretty); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	if err := run(); err != nil {
		if errors.Is(err, tracking.ErrPermissionDenied) {
			log.Fatal().Err(err).Msg("Camera permission denied. Grant access and start again")
		}
		log.Fatal().Err(err).Msg("Simulation failed")
	}
}

func run() error {
	mode, err := frame.ParseMode(*decode)
	if err != nil {
		return err
	}
	if *fps <= 0 {
		return fmt.Errorf("fps must be positive, got %v", *fps)
	}

	files, err := listFrames(*inputDir, *pattern)
	if err != nil {
		return err
	}
	log.Info().Int("frames", len(files)).Str("input", *inputDir).Msg("Frame source ready")

	if err := model.InitRuntime(*ortLib); err != nil {
		return err
	}
	defer model.ShutdownRuntime()

	root := config.ProjectRoot()
	loader := &tracking.Loader{
		ModelPath:    config.Resolve(root, *modelPath),
		MetadataPath: config.Resolve(root, *metaPath),
		LabelsPath:   config.Resolve(root, *labelPath),
		Decode:       mode,
	}
	tracker, err := loader.Open()
	if err != nil {
		return fmt.Errorf("failed to start tracking: %w", err)
	}

	updates, cancel := tracker.Latest().Subscribe()
	defer cancel()
	go func() {
		for status := range updates {
			log.Info().Uint64("frame_seq", status.FrameSeq).Msg(status.Text)
		}
	}()

	var rep RunReport
	start := time.Now()
	rep.Run.Started = start.Format(time.RFC3339)
	rep.Run.Input = *inputDir
	rep.Run.Frames = len(files)
	rep.Run.Loops = *loops
	rep.Run.FPS = *fps
	rep.Run.Decode = string(mode)

	interval := time.Duration(float64(time.Second) / *fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for loop := 0; loop < *loops; loop++ {
		for _, path := range files {
			<-ticker.C

			buf, err := os.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("Skipping frame")
				continue
			}
			f, err := frame.FromNV21(buf, *width, *height)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("Skipping frame")
				continue
			}

			rep.Stats.Offered++
			tracker.Submit(f)
		}
	}

	drain(tracker, 5*time.Second)

	rep.LastResult = tracker.LatestText()
	stats := tracker.Stats()
	if err := tracker.Close(); err != nil {
		log.Warn().Err(err).Msg("Classifier release failed")
	}

	rep.Run.Duration = time.Since(start).Seconds()
	rep.Stats.Accepted = stats.Accepted
	rep.Stats.Dropped = stats.Dropped
	rep.Stats.Failed = stats.Failed
	rep.Stats.Completed = stats.Completed
	rep.Stats.LastInference = stats.LastInference.String()
	if rep.Stats.Offered > 0 {
		rep.Stats.DropRate = float64(stats.Dropped) / float64(rep.Stats.Offered) * 100
	}

	log.Info().
		Int("offered", rep.Stats.Offered).
		Uint64("completed", stats.Completed).
		Uint64("dropped", stats.Dropped).
		Str("last_result", rep.LastResult).
		Msg("Simulation finished")

	if *report == "" {
		return nil
	}
	data, err := yaml.Marshal(rep)
	if err != nil {
		return err
	}
	return os.WriteFile(*report, data, 0o644)
}

// listFrames is the camera: an unreadable directory is treated like a
// denied camera permission and is not retried.
func listFrames(dir, glob string) ([]string, error) {
	if _, err := os.ReadDir(dir); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", tracking.ErrPermissionDenied, dir)
		}
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frames matching %s in %s", glob, dir)
	}
	sort.Strings(files)
	return files, nil
}

// drain waits until the last accepted frame has been handled.
func drain(t *tracking.Tracker, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s := t.Stats()
		if s.Completed+s.Failed >= s.Accepted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
