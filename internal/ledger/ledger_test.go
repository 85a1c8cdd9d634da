package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vouchersnap/vouchersnap/internal/errors"
)

// stepClock returns base, base+1m, base+2m, ... on successive calls.
func stepClock(base time.Time) func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := base.Add(time.Duration(n) * time.Minute)
		n++
		return t
	}
}

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local)

func newStores(t *testing.T) map[string]func() Store {
	dir := t.TempDir()
	return map[string]func() Store{
		"json": func() Store { return NewJSONStore(filepath.Join(dir, "history.json")) },
		"sqlite": func() Store {
			s, err := NewSQLiteStore(filepath.Join(dir, "history.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestLedger_DuplicateDetectionSurvivesReload(t *testing.T) {
	for name, open := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(open(), WithClock(stepClock(base)))
			require.NoError(t, l.Degraded())

			assert.False(t, l.IsDuplicate("abc123", 42))

			rec, err := l.CreateRecord("abc123", 42, "IMG_0001.jpg", WithCaption("Voucher #1"), WithPhotoID(900))
			require.NoError(t, err)
			assert.Equal(t, base, rec.Timestamp)

			assert.True(t, l.IsDuplicate("abc123", 42))
			assert.False(t, l.IsDuplicate("abc123", 43), "same image, other observation")
			assert.False(t, l.IsDuplicate("def456", 42), "other image, same observation")
			require.NoError(t, l.Close())

			reloaded := New(open())
			defer reloaded.Close()
			require.NoError(t, reloaded.Degraded())
			assert.True(t, reloaded.IsDuplicate("abc123", 42))

			prior, ok := reloaded.FindDuplicate("abc123", 42)
			require.True(t, ok)
			assert.Equal(t, "IMG_0001.jpg", prior.Filename)
			require.NotNil(t, prior.Caption)
			assert.Equal(t, "Voucher #1", *prior.Caption)
			require.NotNil(t, prior.PhotoID)
			assert.Equal(t, int64(900), *prior.PhotoID)
			assert.True(t, prior.Timestamp.Equal(base))
		})
	}
}

func TestLedger_TimestampMatchesAfterReload(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 15, 123456789, time.Local)
	clock := func() time.Time { return now }

	for name, open := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(open(), WithClock(clock))
			rec, err := l.CreateRecord("abc123", 42, "IMG_0001.jpg")
			require.NoError(t, err)
			assert.Equal(t, 123456000, rec.Timestamp.Nanosecond())
			require.NoError(t, l.Close())

			reloaded := New(open())
			defer reloaded.Close()
			require.NoError(t, reloaded.Degraded())

			prior, ok := reloaded.FindDuplicate("abc123", 42)
			require.True(t, ok)
			assert.True(t, prior.Timestamp.Equal(rec.Timestamp), "reloaded %v, created %v", prior.Timestamp, rec.Timestamp)

			groups := reloaded.GroupByTarget(&rec.Timestamp, &rec.Timestamp)
			require.Len(t, groups, 1, "a record is inside a range bounded by its own timestamp")
			assert.Equal(t, int64(42), groups[0].ObservationID)
		})
	}
}

func TestLedger_FindDuplicateReturnsFirstMatch(t *testing.T) {
	l := New(NewJSONStore(filepath.Join(t.TempDir(), "h.json")), WithClock(stepClock(base)))

	_, err := l.CreateRecord("same", 7, "first.jpg")
	require.NoError(t, err)
	_, err = l.CreateRecord("same", 7, "second.jpg")
	require.NoError(t, err, "re-uploads are allowed, only flagged")

	prior, ok := l.FindDuplicate("same", 7)
	require.True(t, ok)
	assert.Equal(t, "first.jpg", prior.Filename)
	assert.Equal(t, 2, l.Count())
}

func TestLedger_MissingFileIsEmpty(t *testing.T) {
	l := New(NewJSONStore(filepath.Join(t.TempDir(), "nope", "history.json")))
	assert.Equal(t, 0, l.Count())
	assert.NoError(t, l.Degraded())
}

func TestLedger_MalformedFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"uploads": [ {"image_hash": `), 0o644))

	l := New(NewJSONStore(path), WithClock(stepClock(base)))
	assert.Equal(t, 0, l.Count())
	require.Error(t, l.Degraded())
	assert.True(t, errors.Is(l.Degraded(), ErrMalformed))

	// The next write replaces the corrupt file with a valid snapshot.
	_, err := l.CreateRecord("abc", 1, "a.jpg")
	require.NoError(t, err)
	again := New(NewJSONStore(path))
	assert.NoError(t, again.Degraded())
	assert.Equal(t, 1, again.Count())
}

func TestLedger_RecordMissingFieldsIsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"uploads": [{"filename": "x.jpg"}]}`), 0o644))

	l := New(NewJSONStore(path))
	assert.Equal(t, 0, l.Count())
	assert.True(t, errors.Is(l.Degraded(), ErrMalformed))
}

func TestLedger_SQLiteGarbageFileDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database, just text padding it out to a page"), 0o644))

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	l := New(store)
	defer l.Close()

	assert.Equal(t, 0, l.Count())
	assert.Error(t, l.Degraded())
}

type failingStore struct {
	records []UploadRecord
	fail    bool
}

func (s *failingStore) Load() ([]UploadRecord, error) { return s.records, nil }
func (s *failingStore) Close() error                  { return nil }
func (s *failingStore) Save(records []UploadRecord) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.records = append([]UploadRecord(nil), records...)
	return nil
}

func TestLedger_PersistFailureRollsBack(t *testing.T) {
	store := &failingStore{}
	l := New(store, WithClock(stepClock(base)))

	_, err := l.CreateRecord("keep", 1, "keep.jpg")
	require.NoError(t, err)

	store.fail = true
	_, err = l.CreateRecord("lost", 2, "lost.jpg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersist))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypePersistence))
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, 1, l.Count())
	assert.False(t, l.IsDuplicate("lost", 2))
	assert.Len(t, store.records, 1)
}

func TestLedger_CreateRecordValidation(t *testing.T) {
	l := New(&failingStore{})

	_, err := l.CreateRecord("", 1, "a.jpg")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = l.CreateRecord("abc", 0, "a.jpg")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Equal(t, 0, l.Count())
}

func TestLedger_ConcurrentCreatesAreNotLost(t *testing.T) {
	for name, open := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(open())

			const n = 40
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := l.CreateRecord(fmt.Sprintf("digest-%d", i), int64(100+i), fmt.Sprintf("%d.jpg", i))
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}
			assert.Equal(t, n, l.Count())
			require.NoError(t, l.Close())

			reloaded := New(open())
			defer reloaded.Close()
			assert.Equal(t, n, reloaded.Count())
			for i := 0; i < n; i++ {
				assert.True(t, reloaded.IsDuplicate(fmt.Sprintf("digest-%d", i), int64(100+i)))
			}
		})
	}
}

func TestLedger_ListHistoryNewestFirst(t *testing.T) {
	l := New(&failingStore{}, WithClock(stepClock(base)))
	for i, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		_, err := l.CreateRecord("d"+name, int64(i+1), name)
		require.NoError(t, err)
	}

	all := l.ListHistory(0)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c.jpg", "b.jpg", "a.jpg"}, []string{all[0].Filename, all[1].Filename, all[2].Filename})

	limited := l.ListHistory(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "c.jpg", limited[0].Filename)
}

func TestLedger_GroupByTarget(t *testing.T) {
	l := New(&failingStore{}, WithClock(stepClock(base)))

	// minute: 0 -> obs 20, 1 -> obs 10, 2 -> obs 20, 3 -> obs 30, 4 -> obs 10
	for _, id := range []int64{20, 10, 20, 30, 10} {
		_, err := l.CreateRecord(fmt.Sprintf("d%d", id), id, "x.jpg")
		require.NoError(t, err)
	}

	groups := l.GroupByTarget(nil, nil)
	require.Len(t, groups, 3)
	assert.Equal(t, []int64{20, 10, 30}, []int64{groups[0].ObservationID, groups[1].ObservationID, groups[2].ObservationID})
	for _, g := range groups {
		for i := 1; i < len(g.Records); i++ {
			assert.False(t, g.Records[i].Timestamp.Before(g.Records[i-1].Timestamp), "group %d not oldest-first", g.ObservationID)
		}
	}
	assert.Len(t, groups[0].Records, 2)
	assert.Equal(t, base, groups[0].Earliest())

	// Inclusive bounds: minutes 1..3
	since := base.Add(1 * time.Minute)
	until := base.Add(3 * time.Minute)
	windowed := l.GroupByTarget(&since, &until)
	require.Len(t, windowed, 3)
	assert.Equal(t, []int64{10, 20, 30}, []int64{windowed[0].ObservationID, windowed[1].ObservationID, windowed[2].ObservationID})
	assert.Len(t, windowed[0].Records, 1)
	assert.Equal(t, since, windowed[0].Records[0].Timestamp)
	assert.Equal(t, until, windowed[2].Records[0].Timestamp)

	onlySince := base.Add(4 * time.Minute)
	assert.Len(t, l.GroupByTarget(&onlySince, nil), 1)
}

func TestLedger_UploadsForTarget(t *testing.T) {
	l := New(&failingStore{}, WithClock(stepClock(base)))
	for _, id := range []int64{5, 6, 5} {
		_, err := l.CreateRecord("d", id, fmt.Sprintf("%d.jpg", id))
		require.NoError(t, err)
	}
	assert.Len(t, l.UploadsForTarget(5), 2)
	assert.Len(t, l.UploadsForTarget(6), 1)
	assert.Empty(t, l.UploadsForTarget(7))
}
