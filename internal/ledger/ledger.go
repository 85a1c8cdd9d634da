package ledger

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/vouchersnap/vouchersnap/internal/errors"
	"github.com/vouchersnap/vouchersnap/internal/logger"
)

// Ledger is the in-memory mirror of a Store. It is loaded fully on
// construction and every append is persisted before CreateRecord returns.
type Ledger struct {
	mu       sync.RWMutex
	store    Store
	records  []UploadRecord
	now      func() time.Time
	degraded error
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New loads the ledger from store. A store that cannot be read or parsed
// yields an empty ledger and a logged warning rather than an error; Degraded
// reports the load error so operators can tell history may be missing.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	records, err := store.Load()
	if err != nil {
		l.degraded = err
		logger.WithError(err).Warn("Upload history unreadable, starting with empty history")
		records = nil
	}
	l.records = records

	logger.WithField("records", len(l.records)).Debug("Upload history loaded")
	return l
}

// Degraded returns the load error when the ledger started empty because the
// store could not be read.
func (l *Ledger) Degraded() error {
	return l.degraded
}

// IsDuplicate reports whether digest was already uploaded to observationID.
func (l *Ledger) IsDuplicate(digest string, observationID int64) bool {
	_, ok := l.FindDuplicate(digest, observationID)
	return ok
}

// FindDuplicate returns the first record with the same digest and target.
func (l *Ledger) FindDuplicate(digest string, observationID int64) (UploadRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, r := range l.records {
		if r.ImageHash == digest && r.ObservationID == observationID {
			return r, true
		}
	}
	return UploadRecord{}, false
}

// CreateRecord appends a record stamped with the current time and persists
// it. On a persistence failure the append is rolled back and the error,
// wrapping ErrPersist, is returned.
func (l *Ledger) CreateRecord(digest string, observationID int64, filename string, opts ...RecordOption) (UploadRecord, error) {
	if digest == "" {
		return UploadRecord{}, apperrors.NewValidationError("image digest is required", nil)
	}
	if observationID <= 0 {
		return UploadRecord{}, apperrors.NewValidationError(fmt.Sprintf("invalid observation id %d", observationID), nil)
	}

	rec := UploadRecord{
		ImageHash:     digest,
		ObservationID: observationID,
		Filename:      filename,
	}
	for _, opt := range opts {
		opt(&rec)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// persisted timestamps keep microseconds and no monotonic reading
	rec.Timestamp = l.now().Round(0).Truncate(time.Microsecond)
	n := len(l.records)
	l.records = append(l.records, rec)

	var err error
	if app, ok := l.store.(Appender); ok {
		err = app.Append(rec)
	} else {
		err = l.store.Save(l.records)
	}
	if err != nil {
		l.records = l.records[:n]
		logger.WithError(err).WithFields(logrus.Fields{
			"digest":         digest,
			"observation_id": observationID,
		}).Error("Failed to persist upload record")
		return UploadRecord{}, apperrors.NewPersistenceError("could not record upload", fmt.Errorf("%w: %w", ErrPersist, err))
	}

	logger.WithFields(logrus.Fields{
		"digest":         digest,
		"observation_id": observationID,
		"filename":       filename,
	}).Info("Upload recorded")
	return rec, nil
}

// ListHistory returns records newest first. limit <= 0 returns all.
func (l *Ledger) ListHistory(limit int) []UploadRecord {
	l.mu.RLock()
	out := slices.Clone(l.records)
	l.mu.RUnlock()

	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b UploadRecord) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GroupByTarget groups records by observation within the inclusive range
// [since, until]; nil bounds are open. Each group is oldest first and groups
// are ordered by their earliest record.
func (l *Ledger) GroupByTarget(since, until *time.Time) []TargetGroup {
	l.mu.RLock()
	defer l.mu.RUnlock()

	index := make(map[int64]int)
	var groups []TargetGroup
	for _, r := range l.records {
		if since != nil && r.Timestamp.Before(*since) {
			continue
		}
		if until != nil && r.Timestamp.After(*until) {
			continue
		}
		i, ok := index[r.ObservationID]
		if !ok {
			i = len(groups)
			index[r.ObservationID] = i
			groups = append(groups, TargetGroup{ObservationID: r.ObservationID})
		}
		groups[i].Records = append(groups[i].Records, r)
	}

	for i := range groups {
		slices.SortStableFunc(groups[i].Records, func(a, b UploadRecord) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	}
	slices.SortStableFunc(groups, func(a, b TargetGroup) int {
		if c := a.Earliest().Compare(b.Earliest()); c != 0 {
			return c
		}
		return cmp.Compare(a.ObservationID, b.ObservationID)
	})
	return groups
}

// UploadsForTarget returns every record for observationID in insertion order.
func (l *Ledger) UploadsForTarget(observationID int64) []UploadRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []UploadRecord
	for _, r := range l.records {
		if r.ObservationID == observationID {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of records.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
