package models

import "github.com/vouchersnap/vouchersnap/internal/ledger"

// ScanRequest asks the API to fetch and scan a remote or local image.
type ScanRequest struct {
	Source string `json:"source" binding:"required"`
}

// ScanResponse reports the outcome of scanning one image
type ScanResponse struct {
	Source         string               `json:"source"`
	Outcome        string               `json:"outcome"`
	TargetID       int64                `json:"observation_id,omitempty"`
	ObservationURL string               `json:"observation_url,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	Attempts       int                  `json:"attempts"`
	Variant        string               `json:"variant,omitempty"`
	Digest         string               `json:"digest"`
	Duplicate      bool                 `json:"duplicate"`
	Prior          *ledger.UploadRecord `json:"prior,omitempty"`
	ProcessingMs   int64                `json:"processing_time_ms"`
}

// ManifestRequest lists local files, directories or glob patterns.
type ManifestRequest struct {
	Paths          []string `json:"paths" binding:"required,min=1"`
	SkipDuplicates bool     `json:"skip_duplicates,omitempty"`
}

// HistoryResponse is a page of upload records, newest first.
type HistoryResponse struct {
	Records []ledger.UploadRecord `json:"records"`
	Total   int                   `json:"total"`
}

// TargetGroupResponse is one observation's uploads, oldest first.
type TargetGroupResponse struct {
	ObservationID  int64                 `json:"observation_id"`
	ObservationURL string                `json:"observation_url"`
	Records        []ledger.UploadRecord `json:"records"`
}

// DuplicateResponse answers a duplicate lookup.
type DuplicateResponse struct {
	Duplicate bool                 `json:"duplicate"`
	Prior     *ledger.UploadRecord `json:"prior,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
