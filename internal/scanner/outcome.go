package scanner

import (
	"encoding/json"
	"fmt"
)

// OutcomeKind tags which variant of Outcome is populated.
type OutcomeKind int

const (
	OutcomeFound OutcomeKind = iota
	OutcomeNoQR
	OutcomeForeignQR
	OutcomeFileNotFound
	OutcomeScanError
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeFound:        "found",
	OutcomeNoQR:         "no_qr",
	OutcomeForeignQR:    "foreign_qr",
	OutcomeFileNotFound: "file_not_found",
	OutcomeScanError:    "scan_error",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

func (k OutcomeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Outcome is the result of scanning one image. Only Found carries a
// TargetID; FileNotFound carries Path and ScanError carries Err.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	TargetID int64       `json:"target_id,omitempty"`
	Path     string      `json:"path,omitempty"`
	Err      string      `json:"error,omitempty"`
}

func Found(id int64) Outcome { return Outcome{Kind: OutcomeFound, TargetID: id} }

func NoQR() Outcome { return Outcome{Kind: OutcomeNoQR} }

func ForeignQR() Outcome { return Outcome{Kind: OutcomeForeignQR} }

func FileNotFound(path string) Outcome { return Outcome{Kind: OutcomeFileNotFound, Path: path} }

func ScanError(err error) Outcome { return Outcome{Kind: OutcomeScanError, Err: err.Error()} }

// Found reports whether an identifier was extracted.
func (o Outcome) Found() bool { return o.Kind == OutcomeFound }

// Failed reports input errors, as opposed to decode misses.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFileNotFound || o.Kind == OutcomeScanError
}

// Reason is the user-facing message for non-found outcomes.
func (o Outcome) Reason() string {
	switch o.Kind {
	case OutcomeFound:
		return ""
	case OutcomeNoQR:
		return "No QR code detected"
	case OutcomeForeignQR:
		return "QR code found but not an iNaturalist observation URL"
	case OutcomeFileNotFound:
		return "File not found: " + o.Path
	case OutcomeScanError:
		return "Error scanning image: " + o.Err
	default:
		return o.Kind.String()
	}
}

func (o Outcome) String() string {
	if o.Found() {
		return fmt.Sprintf("observation %d", o.TargetID)
	}
	return o.Reason()
}
