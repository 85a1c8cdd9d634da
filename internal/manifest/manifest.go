package manifest

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/vouchersnap/vouchersnap/internal/hasher"
	"github.com/vouchersnap/vouchersnap/internal/inat"
	"github.com/vouchersnap/vouchersnap/internal/ledger"
	"github.com/vouchersnap/vouchersnap/internal/logger"
	"github.com/vouchersnap/vouchersnap/internal/scanner"
)

// BatchScanner scans files in parallel, preserving input order.
type BatchScanner interface {
	ScanBatch(ctx context.Context, paths []string) []scanner.FileResult
}

// History answers duplicate lookups.
type History interface {
	FindDuplicate(digest string, observationID int64) (ledger.UploadRecord, bool)
}

// ObservationFetcher loads observation metadata.
type ObservationFetcher interface {
	FetchObservation(ctx context.Context, id int64) (*inat.Observation, error)
}

// Item is one scanned file ready for review.
type Item struct {
	Path     string          `json:"path"`
	Filename string          `json:"filename"`
	Digest   string          `json:"digest,omitempty"`
	Outcome  scanner.Outcome `json:"outcome"`
	// Duplicate is set when the same digest was already uploaded to the
	// same observation; Prior is the earliest such upload.
	Duplicate   bool                 `json:"duplicate"`
	Prior       *ledger.UploadRecord `json:"prior,omitempty"`
	Observation *inat.Observation    `json:"observation,omitempty"`
}

// TargetID is the decoded observation id.
func (i Item) TargetID() int64 {
	return i.Outcome.TargetID
}

// Manifest splits a batch into uploadable items and failures. Both keep the
// order of the input paths.
type Manifest struct {
	Items  []Item `json:"items"`
	Failed []Item `json:"failed"`
}

// Stats summarizes a manifest.
type Stats struct {
	Scanned    int `json:"scanned"`
	Found      int `json:"found"`
	Duplicates int `json:"duplicates"`
	NoQR       int `json:"no_qr"`
	ForeignQR  int `json:"foreign_qr"`
	Errors     int `json:"errors"`
}

// Candidates returns the items to upload, optionally leaving out duplicates.
func (m *Manifest) Candidates(skipDuplicates bool) []Item {
	out := make([]Item, 0, len(m.Items))
	for _, item := range m.Items {
		if skipDuplicates && item.Duplicate {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Duplicates returns the items already uploaded to their observation.
func (m *Manifest) Duplicates() []Item {
	var out []Item
	for _, item := range m.Items {
		if item.Duplicate {
			out = append(out, item)
		}
	}
	return out
}

func (m *Manifest) Stats() Stats {
	s := Stats{Scanned: len(m.Items) + len(m.Failed), Found: len(m.Items)}
	for _, item := range m.Items {
		if item.Duplicate {
			s.Duplicates++
		}
	}
	for _, item := range m.Failed {
		switch item.Outcome.Kind {
		case scanner.OutcomeNoQR:
			s.NoQR++
		case scanner.OutcomeForeignQR:
			s.ForeignQR++
		default:
			s.Errors++
		}
	}
	return s
}

// Assembler combines scan outcomes, content digests, history and optional
// observation metadata into a Manifest.
type Assembler struct {
	scanner      BatchScanner
	history      History
	observations ObservationFetcher
	hashFile     func(string) (string, error)
}

// NewAssembler builds an assembler. observations may be nil, in which case
// items carry no metadata.
func NewAssembler(s BatchScanner, h History, observations ObservationFetcher) *Assembler {
	return &Assembler{
		scanner:      s,
		history:      h,
		observations: observations,
		hashFile:     hasher.HashFile,
	}
}

// Build scans paths and assembles the manifest. Only a cancelled context
// makes it return an error; per-file problems land in Failed.
func (a *Assembler) Build(ctx context.Context, paths []string) (*Manifest, error) {
	results := a.scanner.ScanBatch(ctx, paths)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := &Manifest{}
	for _, r := range results {
		item := Item{
			Path:     r.Path,
			Filename: filepath.Base(r.Path),
			Outcome:  r.Outcome,
		}
		if !r.Outcome.Found() {
			m.Failed = append(m.Failed, item)
			continue
		}

		digest, err := a.hashFile(r.Path)
		if err != nil {
			logger.WithError(err).WithField("path", r.Path).Warn("Cannot hash scanned image")
			item.Outcome = scanner.ScanError(err)
			m.Failed = append(m.Failed, item)
			continue
		}
		item.Digest = digest

		if prior, ok := a.history.FindDuplicate(digest, item.TargetID()); ok {
			item.Duplicate = true
			item.Prior = &prior
		}
		m.Items = append(m.Items, item)
	}

	if a.observations != nil {
		a.attachObservations(ctx, m.Items)
	}

	stats := m.Stats()
	logger.WithFields(logrus.Fields{
		"scanned":    stats.Scanned,
		"found":      stats.Found,
		"duplicates": stats.Duplicates,
	}).Info("Manifest assembled")
	return m, nil
}

// attachObservations fetches each distinct observation once.
func (a *Assembler) attachObservations(ctx context.Context, items []Item) {
	cache := make(map[int64]*inat.Observation)
	for i := range items {
		id := items[i].TargetID()
		obs, seen := cache[id]
		if !seen {
			var err error
			obs, err = a.observations.FetchObservation(ctx, id)
			if err != nil {
				logger.WithError(err).WithField("observation_id", id).Warn("Could not fetch observation")
				obs = nil
			}
			cache[id] = obs
		}
		items[i].Observation = obs
	}
}
