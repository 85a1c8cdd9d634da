package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ScanEvent describes progress of a scan batch or a recorded upload.
type ScanEvent struct {
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	Path         string                 `json:"path"`
	Index        int                    `json:"index"`
	Total        int                    `json:"total"`
	Outcome      string                 `json:"outcome,omitempty"`
	TargetID     int64                  `json:"target_id,omitempty"`
	Attempts     int                    `json:"attempts,omitempty"`
	Duration     time.Duration          `json:"duration"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of scan event
type EventType string

const (
	// ScanStarted when a file is picked up by a worker
	ScanStarted EventType = "scan_started"
	// ScanCompleted when a file produced an outcome, found or not
	ScanCompleted EventType = "scan_completed"
	// ScanFailed when the file could not be read or decoded
	ScanFailed EventType = "scan_failed"
	// UploadRecorded when a record was appended to the ledger
	UploadRecorded EventType = "upload_recorded"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event ScanEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event ScanEvent)
}

// LoggingObserver logs scan events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles scan events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event ScanEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"path":       event.Path,
		"index":      event.Index,
		"total":      event.Total,
	}
	if event.Outcome != "" {
		fields["outcome"] = event.Outcome
	}
	if event.TargetID != 0 {
		fields["target_id"] = event.TargetID
	}
	if event.Attempts != 0 {
		fields["attempts"] = event.Attempts
	}
	if event.Duration != 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	switch event.EventType {
	case ScanStarted:
		o.logger.WithFields(fields).Debug("Scan started")
	case ScanCompleted:
		o.logger.WithFields(fields).Info("Scan completed")
	case ScanFailed:
		o.logger.WithFields(fields).Warn("Scan failed")
	case UploadRecorded:
		o.logger.WithFields(fields).Info("Upload recorded")
	default:
		o.logger.WithFields(fields).Info("Scan event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsSnapshot is a point-in-time copy of MetricsObserver counters.
type MetricsSnapshot struct {
	FilesScanned    int64         `json:"files_scanned"`
	IdentifiersRead int64         `json:"identifiers_read"`
	Misses          int64         `json:"misses"`
	Failures        int64         `json:"failures"`
	Uploads         int64         `json:"uploads"`
	DecodeAttempts  int64         `json:"decode_attempts"`
	TotalScanTime   time.Duration `json:"total_scan_time"`
	AvgScanTime     time.Duration `json:"avg_scan_time"`
}

// MetricsObserver collects counters from scan events
type MetricsObserver struct {
	mu             sync.RWMutex
	filesScanned   int64
	found          int64
	misses         int64
	failures       int64
	uploads        int64
	decodeAttempts int64
	totalScanTime  time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles scan events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event ScanEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case ScanCompleted:
		o.filesScanned++
		o.decodeAttempts += int64(event.Attempts)
		o.totalScanTime += event.Duration
		if event.Outcome == "found" {
			o.found++
		} else {
			o.misses++
		}
	case ScanFailed:
		o.filesScanned++
		o.failures++
		o.totalScanTime += event.Duration
	case UploadRecorded:
		o.uploads++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// Snapshot returns current metrics
func (o *MetricsObserver) Snapshot() MetricsSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var avg time.Duration
	if o.filesScanned > 0 {
		avg = o.totalScanTime / time.Duration(o.filesScanned)
	}
	return MetricsSnapshot{
		FilesScanned:    o.filesScanned,
		IdentifiersRead: o.found,
		Misses:          o.misses,
		Failures:        o.failures,
		Uploads:         o.uploads,
		DecodeAttempts:  o.decodeAttempts,
		TotalScanTime:   o.totalScanTime,
		AvgScanTime:     avg,
	}
}

// FuncObserver adapts a function, used by the CLI for progress lines.
type FuncObserver struct {
	Name string
	Fn   func(ctx context.Context, event ScanEvent)
}

func (o FuncObserver) OnEvent(ctx context.Context, event ScanEvent) { o.Fn(ctx, event) }
func (o FuncObserver) GetObserverName() string                     { return o.Name }

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers the event to every observer on the calling
// goroutine, in subscription order. Scan workers call this concurrently, so
// observers must be safe for concurrent use.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event ScanEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, obs := range observers {
		notify(ctx, obs, event)
	}
}

func notify(ctx context.Context, obs Observer, event ScanEvent) {
	defer func() {
		if r := recover(); r != nil {
			// Log panic but don't crash the batch
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
