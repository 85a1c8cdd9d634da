package observer

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestEventPublisher_DeliversInOrder(t *testing.T) {
	pub := NewEventPublisher()

	var mu sync.Mutex
	var seen []string
	record := func(name string) Observer {
		return FuncObserver{Name: name, Fn: func(ctx context.Context, e ScanEvent) {
			mu.Lock()
			seen = append(seen, name+":"+e.Path)
			mu.Unlock()
		}}
	}
	pub.Subscribe(record("a"))
	pub.Subscribe(record("b"))

	pub.NotifyObservers(context.Background(), ScanEvent{EventType: ScanStarted, Path: "x.jpg"})

	if strings.Join(seen, ",") != "a:x.jpg,b:x.jpg" {
		t.Errorf("Expected ordered delivery, got %v", seen)
	}
}

func TestEventPublisher_Unsubscribe(t *testing.T) {
	pub := NewEventPublisher()
	calls := 0
	obs := FuncObserver{Name: "counter", Fn: func(context.Context, ScanEvent) { calls++ }}

	pub.Subscribe(obs)
	pub.Unsubscribe(obs)
	pub.NotifyObservers(context.Background(), ScanEvent{EventType: ScanCompleted})

	if calls != 0 {
		t.Errorf("Expected no calls after unsubscribe, got %d", calls)
	}
}

func TestEventPublisher_RecoversFromPanic(t *testing.T) {
	pub := NewEventPublisher()
	delivered := false
	pub.Subscribe(FuncObserver{Name: "boom", Fn: func(context.Context, ScanEvent) { panic("boom") }})
	pub.Subscribe(FuncObserver{Name: "ok", Fn: func(context.Context, ScanEvent) { delivered = true }})

	pub.NotifyObservers(context.Background(), ScanEvent{EventType: ScanFailed})

	if !delivered {
		t.Error("Expected later observer to still receive the event")
	}
}

func TestMetricsObserver_Snapshot(t *testing.T) {
	m := NewMetricsObserver()
	ctx := context.Background()

	m.OnEvent(ctx, ScanEvent{EventType: ScanCompleted, Outcome: "found", TargetID: 42, Attempts: 3, Duration: 30 * time.Millisecond})
	m.OnEvent(ctx, ScanEvent{EventType: ScanCompleted, Outcome: "no_qr", Attempts: 13, Duration: 10 * time.Millisecond})
	m.OnEvent(ctx, ScanEvent{EventType: ScanFailed, Duration: 20 * time.Millisecond})
	m.OnEvent(ctx, ScanEvent{EventType: UploadRecorded})

	s := m.Snapshot()
	if s.FilesScanned != 3 {
		t.Errorf("Expected 3 files scanned, got %d", s.FilesScanned)
	}
	if s.IdentifiersRead != 1 || s.Misses != 1 || s.Failures != 1 {
		t.Errorf("Unexpected outcome counters: %+v", s)
	}
	if s.DecodeAttempts != 16 {
		t.Errorf("Expected 16 decode attempts, got %d", s.DecodeAttempts)
	}
	if s.Uploads != 1 {
		t.Errorf("Expected 1 upload, got %d", s.Uploads)
	}
	if s.AvgScanTime != 20*time.Millisecond {
		t.Errorf("Expected 20ms average, got %v", s.AvgScanTime)
	}
}

func TestLoggingObserver_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	NewLoggingObserver(log).OnEvent(context.Background(), ScanEvent{
		EventType: ScanCompleted,
		Path:      "specimen.jpg",
		Outcome:   "found",
		TargetID:  12345,
	})

	out := buf.String()
	for _, want := range []string{`"path":"specimen.jpg"`, `"target_id":12345`, `"msg":"Scan completed"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %s, got %s", want, out)
		}
	}
}
