// Package tracking runs live ingredient recognition for one camera session.
//
// A Tracker owns a single worker goroutine that decodes, preprocesses and
// classifies one frame at a time. Frames arriving while the worker is busy
// are dropped, never queued, so the published result never lags far behind
// the camera.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/indofood-api/internal/frame"
	"github.com/Brownie44l1/indofood-api/internal/model"
	"github.com/Brownie44l1/indofood-api/internal/observable"
	"github.com/Brownie44l1/indofood-api/internal/preprocess"
)

// WaitingText is the result text before the first inference completes.
const WaitingText = "Menunggu deteksi..."

var (
	ErrClosed           = errors.New("tracking session closed")
	ErrBusy             = errors.New("tracking session busy")
	ErrPermissionDenied = errors.New("camera permission denied")
)

// Classifier scores a preprocessed tensor. Implementations need not be safe
// for concurrent use.
type Classifier interface {
	Infer(input []float32) ([]float32, error)
	OutputSize() int
	Close() error
}

// Config holds everything a Tracker needs besides the classifier.
type Config struct {
	Labels     model.LabelSet
	Preprocess preprocess.Options
	Decode     frame.Mode
}

// Status is the published outcome of the most recently completed inference.
type Status struct {
	Text     string        `json:"text"`
	Result   *model.Result `json:"result,omitempty"`
	FrameSeq uint64        `json:"frame_seq"`
	At       time.Time     `json:"at"`
}

// Stats counts what happened to submitted frames.
type Stats struct {
	Accepted      uint64        `json:"accepted"`
	Dropped       uint64        `json:"dropped"`
	Failed        uint64        `json:"failed"`
	Completed     uint64        `json:"completed"`
	LastInference time.Duration `json:"last_inference_ns"`
}

type job struct {
	frame *frame.Frame
	image image.Image
	reply chan reply
}

type reply struct {
	result model.Result
	err    error
}

// Tracker is the per-session pipeline. Create it with New and release it
// with Close.
type Tracker struct {
	id     string
	clf    Classifier
	labels model.LabelSet
	opts   preprocess.Options
	mode   frame.Mode
	logger zerolog.Logger

	busy    atomic.Bool
	closing atomic.Bool

	mu     sync.Mutex
	closed bool
	inbox  chan job
	done   chan struct{}

	releaseOnce sync.Once
	releaseErr  error

	latest *observable.Value[Status]

	lastActive    atomic.Int64
	seq           atomic.Uint64
	accepted      atomic.Uint64
	dropped       atomic.Uint64
	failed        atomic.Uint64
	completed     atomic.Uint64
	lastInference atomic.Int64
}

// New starts a tracker that takes ownership of clf. The labels must align
// with the classifier output.
func New(clf Classifier, cfg Config) (*Tracker, error) {
	if err := cfg.Labels.CheckAligned(clf.OutputSize()); err != nil {
		return nil, err
	}
	if err := cfg.Preprocess.Validate(); err != nil {
		return nil, err
	}
	if cfg.Decode == "" {
		cfg.Decode = frame.ModeDirect
	}

	id := uuid.NewString()
	t := &Tracker{
		id:     id,
		clf:    clf,
		labels: cfg.Labels,
		opts:   cfg.Preprocess,
		mode:   cfg.Decode,
		logger: log.With().Str("component", "tracking").Str("session", id).Logger(),
		inbox:  make(chan job, 1),
		done:   make(chan struct{}),
		latest: observable.New(Status{Text: WaitingText, At: time.Now()}),
	}

	t.Touch()
	go t.run()

	t.logger.Info().
		Int("labels", len(cfg.Labels)).
		Int("input_size", cfg.Preprocess.Size).
		Str("decode", string(cfg.Decode)).
		Msg("Tracking session started")
	return t, nil
}

// ID identifies the session.
func (t *Tracker) ID() string {
	return t.id
}

// Latest is the observable result. Subscribers get last-write-wins updates.
func (t *Tracker) Latest() *observable.Value[Status] {
	return t.latest
}

// Touch records client activity. Frames, image requests and open result
// streams keep a session alive.
func (t *Tracker) Touch() {
	t.lastActive.Store(time.Now().UnixNano())
}

// LastActive is when the session was last touched.
func (t *Tracker) LastActive() time.Time {
	return time.Unix(0, t.lastActive.Load())
}

// LatestText is a snapshot of the result text.
func (t *Tracker) LatestText() string {
	return t.latest.Get().Text
}

// Submit hands a frame to the worker. It never blocks: if a frame is
// already being processed, or the tracker is closing, f is dropped and
// Submit returns false. Accepted frames without a sequence number get one.
func (t *Tracker) Submit(f *frame.Frame) bool {
	if t.closing.Load() {
		return false
	}
	t.Touch()
	if !t.busy.CompareAndSwap(false, true) {
		t.dropped.Add(1)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		t.busy.Store(false)
		return false
	}
	if f.Seq == 0 {
		f.Seq = t.seq.Add(1)
	}
	// busy was false, so the worker has drained the inbox.
	t.inbox <- job{frame: f}
	t.accepted.Add(1)
	return true
}

// ClassifyImage classifies an upright still image on the worker and waits
// for the result, which is also published. It fails with ErrBusy instead
// of waiting behind a frame in flight.
func (t *Tracker) ClassifyImage(ctx context.Context, img image.Image) (model.Result, error) {
	if t.closing.Load() {
		return model.Result{}, ErrClosed
	}
	t.Touch()
	if !t.busy.CompareAndSwap(false, true) {
		return model.Result{}, ErrBusy
	}

	replyCh := make(chan reply, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.busy.Store(false)
		return model.Result{}, ErrClosed
	}
	t.inbox <- job{image: img, reply: replyCh}
	t.accepted.Add(1)
	t.mu.Unlock()

	select {
	case r := <-replyCh:
		return r.result, r.err
	case <-ctx.Done():
		return model.Result{}, ctx.Err()
	}
}

// Stats returns a snapshot of the frame counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Accepted:      t.accepted.Load(),
		Dropped:       t.dropped.Load(),
		Failed:        t.failed.Load(),
		Completed:     t.completed.Load(),
		LastInference: time.Duration(t.lastInference.Load()),
	}
}

// Close stops intake, waits for the worker and releases the classifier
// exactly once. An inference already running is allowed to finish; a job
// still waiting in the inbox is discarded.
func (t *Tracker) Close() error {
	t.closing.Store(true)

	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.inbox)
	}
	t.mu.Unlock()

	<-t.done

	t.releaseOnce.Do(func() {
		t.releaseErr = t.clf.Close()
		t.latest.Close()
		stats := t.Stats()
		t.logger.Info().
			Uint64("accepted", stats.Accepted).
			Uint64("dropped", stats.Dropped).
			Uint64("failed", stats.Failed).
			Uint64("completed", stats.Completed).
			Msg("Tracking session closed")
	})
	return t.releaseErr
}

func (t *Tracker) run() {
	defer close(t.done)

	for j := range t.inbox {
		if t.closing.Load() {
			if j.reply != nil {
				j.reply <- reply{err: ErrClosed}
			}
			t.busy.Store(false)
			continue
		}
		t.handle(j)
		t.busy.Store(false)
	}
}

func (t *Tracker) handle(j job) {
	var (
		res model.Result
		err error
		seq uint64
	)

	start := time.Now()
	if j.frame != nil {
		seq = j.frame.Seq
		t.logger.Trace().
			Uint64("frame_seq", seq).
			Dur("queued", start.Sub(j.frame.Timestamp)).
			Msg("Frame picked up")
	}
	res, err = t.process(j)
	elapsed := time.Since(start)

	if j.reply != nil {
		defer func() { j.reply <- reply{result: res, err: err} }()
	}

	if err != nil {
		t.failed.Add(1)
		t.logger.Warn().Err(err).Uint64("frame_seq", seq).Msg("Dropping frame")
		return
	}

	t.completed.Add(1)
	t.lastInference.Store(int64(elapsed))

	r := res
	t.latest.Set(Status{
		Text:     r.String(),
		Result:   &r,
		FrameSeq: seq,
		At:       time.Now(),
	})

	t.logger.Debug().
		Uint64("frame_seq", seq).
		Str("result", r.String()).
		Dur("elapsed", elapsed).
		Msg("Frame classified")
}

// process runs one job. A panic anywhere in decode, preprocessing or
// inference fails only this job.
func (t *Tracker) process(j job) (res model.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while classifying: %v", p)
		}
	}()

	if j.frame != nil {
		return t.classifyFrame(j.frame)
	}
	return t.classifyImage(j.image)
}

func (t *Tracker) classifyFrame(f *frame.Frame) (model.Result, error) {
	bitmap, err := frame.Decode(f, t.mode)
	if err != nil {
		return model.Result{}, fmt.Errorf("decode: %w", err)
	}
	return t.classify(bitmap, t.opts)
}

func (t *Tracker) classifyImage(img image.Image) (model.Result, error) {
	opts := t.opts
	opts.RotateDegrees = 0
	return t.classify(img, opts)
}

func (t *Tracker) classify(img image.Image, opts preprocess.Options) (model.Result, error) {
	tensor, err := preprocess.Process(img, opts)
	if err != nil {
		return model.Result{}, fmt.Errorf("preprocess: %w", err)
	}

	scores, err := t.clf.Infer(tensor.Data)
	if err != nil {
		return model.Result{}, fmt.Errorf("infer: %w", err)
	}

	return model.Select(scores, t.labels)
}
