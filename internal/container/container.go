package container

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vouchersnap/vouchersnap/internal/config"
	"github.com/vouchersnap/vouchersnap/internal/factory"
	"github.com/vouchersnap/vouchersnap/internal/inat"
	"github.com/vouchersnap/vouchersnap/internal/ledger"
	"github.com/vouchersnap/vouchersnap/internal/logger"
	"github.com/vouchersnap/vouchersnap/internal/manifest"
	"github.com/vouchersnap/vouchersnap/internal/observer"
	"github.com/vouchersnap/vouchersnap/internal/scanner"
	"github.com/vouchersnap/vouchersnap/internal/storage"
	"github.com/vouchersnap/vouchersnap/internal/transport"
	"github.com/vouchersnap/vouchersnap/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config     *config.Config
	events     *observer.EventPublisher
	metrics    *observer.MetricsObserver
	store      ledger.Store
	ledger     *ledger.Ledger
	scanner    *scanner.Scanner
	resolver   *storage.Resolver
	tokenStore *inat.TokenStore
	client     *inat.HTTPClient
	assembler  *manifest.Assembler
	handler    http.Handler
}

// NewContainer builds the dependency graph for cfg.
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	components := factory.NewComponentFactory(cfg)

	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(metrics)
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))

	store, err := components.StoreFactory.CreateStore(cfg.LedgerBackend, cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	history := ledger.New(store)

	resolver, err := factory.NewResolver(components.SourceFactory)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build image sources: %w", err)
	}

	tokenStore := inat.NewTokenStore(cfg.TokenPath)
	opts := []inat.ClientOption{}
	if tok := tokenStore.Load(); tok != nil {
		opts = append(opts, inat.WithToken(tok))
	}
	client := inat.NewHTTPClient(cfg.APIBaseURL, opts...)

	sc := components.ScannerFactory.CreateScanner(events)
	assembler := manifest.NewAssembler(sc, history, client)

	c := &Container{
		config:     cfg,
		events:     events,
		metrics:    metrics,
		store:      store,
		ledger:     history,
		scanner:    sc,
		resolver:   resolver,
		tokenStore: tokenStore,
		client:     client,
		assembler:  assembler,
	}
	c.handler = transport.NewHandler(transport.Dependencies{
		Config:    cfg,
		Scanner:   sc,
		Ledger:    history,
		Assembler: assembler,
		Sources:   resolver,
		Validator: validation.NewURLValidatorWithOptions(validation.DefaultSchemes, cfg.AllowedSourceHosts),
		Events:    events,
		Metrics:   metrics,
	})
	return c, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

func (c *Container) Ledger() *ledger.Ledger             { return c.ledger }
func (c *Container) Scanner() *scanner.Scanner          { return c.scanner }
func (c *Container) Assembler() *manifest.Assembler     { return c.assembler }
func (c *Container) Client() *inat.HTTPClient           { return c.client }
func (c *Container) TokenStore() *inat.TokenStore       { return c.tokenStore }
func (c *Container) Events() *observer.EventPublisher   { return c.events }
func (c *Container) Metrics() *observer.MetricsObserver { return c.metrics }
func (c *Container) Sources() *storage.Resolver         { return c.resolver }

// Close releases the history store.
func (c *Container) Close() error {
	return c.ledger.Close()
}
