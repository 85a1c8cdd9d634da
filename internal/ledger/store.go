package ledger

// Store persists the full ledger. Load on a store that has never been
// written returns no records and no error; unparseable data returns an error
// wrapping ErrMalformed.
type Store interface {
	Load() ([]UploadRecord, error)
	// Save atomically replaces the persisted ledger with records
	Save(records []UploadRecord) error
	Close() error
}

// Appender is implemented by stores that can durably add one record without
// rewriting the rest. The ledger prefers it over Save when available.
type Appender interface {
	Append(record UploadRecord) error
}
