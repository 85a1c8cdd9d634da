package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// timestampLayout matches the zone-less ISO-8601 timestamps already present
// in existing history files.
const timestampLayout = "2006-01-02T15:04:05.999999"

// UploadRecord is one successful upload of an image to an observation.
type UploadRecord struct {
	ImageHash     string    `json:"image_hash"`
	ObservationID int64     `json:"observation_id"`
	Filename      string    `json:"filename"`
	Timestamp     time.Time `json:"timestamp"`
	Caption       *string   `json:"caption"`
	PhotoID       *int64    `json:"inat_photo_id"`
}

type recordJSON struct {
	ImageHash     string  `json:"image_hash"`
	ObservationID int64   `json:"observation_id"`
	Filename      string  `json:"filename"`
	Timestamp     string  `json:"timestamp"`
	Caption       *string `json:"caption"`
	PhotoID       *int64  `json:"inat_photo_id"`
}

func (r UploadRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ImageHash:     r.ImageHash,
		ObservationID: r.ObservationID,
		Filename:      r.Filename,
		Timestamp:     FormatTimestamp(r.Timestamp),
		Caption:       r.Caption,
		PhotoID:       r.PhotoID,
	})
}

func (r *UploadRecord) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ImageHash == "" || raw.ObservationID == 0 || raw.Timestamp == "" {
		return fmt.Errorf("record missing image_hash, observation_id or timestamp")
	}
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	*r = UploadRecord{
		ImageHash:     raw.ImageHash,
		ObservationID: raw.ObservationID,
		Filename:      raw.Filename,
		Timestamp:     ts,
		Caption:       raw.Caption,
		PhotoID:       raw.PhotoID,
	}
	return nil
}

// FormatTimestamp renders t in local time without a zone suffix.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(timestampLayout)
}

// ParseTimestamp accepts zone-less local timestamps as well as RFC 3339.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// TargetGroup is every record for one observation, oldest first.
type TargetGroup struct {
	ObservationID int64          `json:"observation_id"`
	Records       []UploadRecord `json:"records"`
}

// Earliest is the timestamp of the group's first upload.
func (g TargetGroup) Earliest() time.Time {
	if len(g.Records) == 0 {
		return time.Time{}
	}
	return g.Records[0].Timestamp
}

// RecordOption sets optional fields on a new record.
type RecordOption func(*UploadRecord)

func WithCaption(caption string) RecordOption {
	return func(r *UploadRecord) {
		if caption != "" {
			r.Caption = &caption
		}
	}
}

func WithPhotoID(id int64) RecordOption {
	return func(r *UploadRecord) {
		r.PhotoID = &id
	}
}
