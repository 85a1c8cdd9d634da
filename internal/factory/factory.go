package factory

import (
	"fmt"

	"github.com/vouchersnap/vouchersnap/internal/config"
	"github.com/vouchersnap/vouchersnap/internal/ledger"
	"github.com/vouchersnap/vouchersnap/internal/logger"
	"github.com/vouchersnap/vouchersnap/internal/observer"
	"github.com/vouchersnap/vouchersnap/internal/scanner"
	"github.com/vouchersnap/vouchersnap/internal/storage"
)

// SourceType names an image source backend
type SourceType string

const (
	// HTTPSource for http and https URLs
	HTTPSource SourceType = "http"
	// AzureSource for azblob:// references
	AzureSource SourceType = "azure"
	// LocalSource for paths and file:// URLs
	LocalSource SourceType = "local"
)

// StoreFactory opens ledger stores
type StoreFactory interface {
	CreateStore(backend, path string) (ledger.Store, error)
}

// SourceFactory creates image sources
type SourceFactory interface {
	CreateSource(sourceType SourceType) (storage.Source, error)
}

// ScannerFactory creates scanners
type ScannerFactory interface {
	CreateScanner(events observer.Subject) *scanner.Scanner
}

type storeFactory struct{}

// NewStoreFactory creates a new store factory
func NewStoreFactory() StoreFactory {
	return &storeFactory{}
}

// CreateStore opens the store for backend at path.
func (f *storeFactory) CreateStore(backend, path string) (ledger.Store, error) {
	switch backend {
	case config.LedgerBackendJSON, "":
		return ledger.NewJSONStore(path), nil
	case config.LedgerBackendSQLite:
		store, err := ledger.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownBackend, backend)
	}
}

type sourceFactory struct {
	cfg *config.Config
}

// NewSourceFactory creates a source factory using cfg for timeouts, size
// limits and Azure credentials.
func NewSourceFactory(cfg *config.Config) SourceFactory {
	return &sourceFactory{cfg: cfg}
}

// CreateSource creates a source implementation based on the specified type
func (f *sourceFactory) CreateSource(sourceType SourceType) (storage.Source, error) {
	switch sourceType {
	case HTTPSource:
		return storage.NewHTTPSource(
			storage.WithTimeout(f.cfg.FetchTimeout),
			storage.WithMaxBytes(f.cfg.MaxRequestBodySize),
		), nil
	case AzureSource:
		if f.cfg.AzureAccountName == "" || f.cfg.AzureAccountKey == "" {
			return nil, fmt.Errorf("azure source needs AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY")
		}
		src, err := storage.NewAzureSource(f.cfg.AzureAccountName, f.cfg.AzureAccountKey)
		if err != nil {
			return nil, err
		}
		return src, nil
	case LocalSource:
		return storage.FileSource{}, nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sourceType)
	}
}

// NewResolver registers every source the configuration allows. Azure is
// skipped, with a log line, when no credentials are configured.
func NewResolver(f SourceFactory) (*storage.Resolver, error) {
	r := storage.NewResolver()

	httpSrc, err := f.CreateSource(HTTPSource)
	if err != nil {
		return nil, err
	}
	r.Register(httpSrc, "http", "https")

	localSrc, err := f.CreateSource(LocalSource)
	if err != nil {
		return nil, err
	}
	r.Register(localSrc, "file")

	if azureSrc, err := f.CreateSource(AzureSource); err == nil {
		r.Register(azureSrc, storage.SchemeAzureBlob)
	} else {
		logger.WithError(err).Debug("Azure blob source disabled")
	}
	return r, nil
}

type scannerFactory struct {
	cfg     *config.Config
	decoder scanner.Decoder
}

// NewScannerFactory creates scanners using the gozxing decoder.
func NewScannerFactory(cfg *config.Config) ScannerFactory {
	return &scannerFactory{cfg: cfg, decoder: scanner.NewZXingDecoder()}
}

func (f *scannerFactory) CreateScanner(events observer.Subject) *scanner.Scanner {
	opts := scanner.DefaultScanOptions().WithWorkers(f.cfg.ScanWorkers())
	if f.cfg.ScanTargets != nil {
		opts = opts.WithTargets(f.cfg.ScanTargets...)
	}
	return scanner.NewScanner(f.decoder, opts, events)
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	StoreFactory   StoreFactory
	SourceFactory  SourceFactory
	ScannerFactory ScannerFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	return &ComponentFactory{
		StoreFactory:   NewStoreFactory(),
		SourceFactory:  NewSourceFactory(cfg),
		ScannerFactory: NewScannerFactory(cfg),
	}
}
