package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vouchersnap/vouchersnap/internal/logger"
	"github.com/vouchersnap/vouchersnap/internal/observer"
)

// ErrDecoderPanic wraps a panic raised while loading or decoding an image.
var ErrDecoderPanic = errors.New("decoder panicked")

// FileResult is one entry of a batch scan, in input order.
type FileResult struct {
	Path     string
	Outcome  Outcome
	Attempts int
	Variant  string
	Duration time.Duration
}

// Scanner reads observation ids from specimen photos.
type Scanner struct {
	loop     *DecodeLoop
	opts     ScanOptions
	events   observer.Subject
	readFile func(string) ([]byte, error)
}

// NewScanner builds a scanner. events may be nil.
func NewScanner(decoder Decoder, opts ScanOptions, events observer.Subject) *Scanner {
	return &Scanner{
		loop:     NewDecodeLoop(decoder, opts.Targets),
		opts:     opts,
		events:   events,
		readFile: os.ReadFile,
	}
}

// ScanFile loads path, orients and normalizes it, then runs the decode loop.
// A missing file yields FileNotFound; any other read or decode failure
// yields ScanError.
func (s *Scanner) ScanFile(path string) Result {
	data, err := s.readFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Outcome: FileNotFound(path)}
		}
		return Result{Outcome: ScanError(err)}
	}
	return s.ScanBytes(data)
}

// ScanBytes scans an encoded image already held in memory. A panic in the
// image codecs or the decoder is reported as ScanError.
func (s *Scanner) ScanBytes(data []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Scan panicked")
			res = Result{Outcome: ScanError(fmt.Errorf("%w: %v", ErrDecoderPanic, r))}
		}
	}()

	img, err := LoadImage(data)
	if err != nil {
		return Result{Outcome: ScanError(err)}
	}
	return s.loop.Run(img)
}

// ScanBatch scans paths on a bounded worker pool. Results come back in the
// order of paths. Items not started before ctx is done report ScanError.
func (s *Scanner) ScanBatch(ctx context.Context, paths []string) []FileResult {
	results := make([]FileResult, len(paths))
	if len(paths) == 0 {
		return results
	}

	pool := NewWorkerPool(min(s.workers(), len(paths)))
	pool.Start()
	defer pool.Close()

	total := len(paths)
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			results[i] = FileResult{Path: path, Outcome: ScanError(err)}
			continue
		}
		pool.Submit(func() {
			if err := ctx.Err(); err != nil {
				results[i] = FileResult{Path: path, Outcome: ScanError(err)}
				return
			}
			results[i] = s.scanOne(ctx, path, i, total)
		})
	}
	pool.Wait()

	logger.WithFields(logrus.Fields{
		"files":   total,
		"workers": pool.Size(),
	}).Debug("Batch scan finished")
	return results
}

func (s *Scanner) scanOne(ctx context.Context, path string, index, total int) FileResult {
	s.publish(ctx, observer.ScanEvent{EventType: observer.ScanStarted, Path: path, Index: index, Total: total})

	start := time.Now()
	res := s.ScanFile(path)
	fr := FileResult{
		Path:     path,
		Outcome:  res.Outcome,
		Attempts: res.Attempts,
		Variant:  res.Variant,
		Duration: time.Since(start),
	}

	event := observer.ScanEvent{
		EventType: observer.ScanCompleted,
		Path:      path,
		Index:     index,
		Total:     total,
		Outcome:   fr.Outcome.Kind.String(),
		TargetID:  fr.Outcome.TargetID,
		Attempts:  fr.Attempts,
		Duration:  fr.Duration,
	}
	if fr.Outcome.Failed() {
		event.EventType = observer.ScanFailed
		event.ErrorMessage = fr.Outcome.Reason()
	}
	s.publish(ctx, event)
	return fr
}

func (s *Scanner) publish(ctx context.Context, event observer.ScanEvent) {
	if s.events != nil {
		s.events.NotifyObservers(ctx, event)
	}
}

func (s *Scanner) workers() int {
	if s.opts.Workers > 0 {
		return s.opts.Workers
	}
	return runtime.NumCPU()
}
