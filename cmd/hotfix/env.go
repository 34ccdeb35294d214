package main

import (
	"fmt"

	"github.com/narvanalabs/hotfix/internal/delivery"
	"github.com/narvanalabs/hotfix/internal/secrets"
	"github.com/narvanalabs/hotfix/internal/store"
	pgstore "github.com/narvanalabs/hotfix/internal/store/postgres"
	"github.com/narvanalabs/hotfix/pkg/config"
	"github.com/narvanalabs/hotfix/pkg/logger"
)

// environment holds what every command needs: configuration, the persisted
// settings and the optional collaborators derived from them.
type environment struct {
	cfg          *config.Config
	settingsFile *config.SettingsFile
	settings     *config.Settings
	sealer       *secrets.Sealer
	history      store.OutcomeStore
	log          *logger.Logger
}

func newEnvironment() (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)

	settingsFile := &config.SettingsFile{Path: cfg.SettingsPath}
	settings, err := settingsFile.Load()
	if err != nil {
		return nil, err
	}

	sealer, err := secrets.NewSealer(secrets.Config{
		AgePublicKey:  cfg.Delivery.AgePublicKey,
		AgePrivateKey: cfg.Delivery.AgePrivateKey,
	}, log.Logger)
	if err != nil {
		return nil, err
	}

	env := &environment{
		cfg:          cfg,
		settingsFile: settingsFile,
		settings:     settings,
		sealer:       sealer,
		log:          log,
	}

	if cfg.DatabaseDSN != "" {
		pg, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
		if err != nil {
			return nil, fmt.Errorf("connecting build history store: %w", err)
		}
		env.history = pg
	}
	return env, nil
}

// sink returns where publishes go: the delivery server when a publish token
// is configured, the local store directory otherwise.
func (e *environment) sink() (delivery.Sink, error) {
	if e.cfg.Delivery.PublishToken != "" {
		return delivery.NewHTTPClient(e.cfg.Delivery.Endpoint, e.cfg.Delivery.FetchTimeout,
			delivery.WithToken(e.cfg.Delivery.PublishToken)), nil
	}
	return delivery.NewFileStore(e.cfg.Delivery.StoreDir)
}

func (e *environment) publisher() (*delivery.Publisher, error) {
	sink, err := e.sink()
	if err != nil {
		return nil, err
	}
	var opts []delivery.PublisherOption
	if e.sealer.CanSeal() {
		opts = append(opts, delivery.WithSealer(e.sealer))
	}
	return delivery.NewPublisher(e.cfg.ProjectRoot, e.settings, sink, e.log.Logger, opts...), nil
}

// Close releases the history store.
func (e *environment) Close() {
	if e.history != nil {
		e.history.Close()
		e.history = nil
	}
}
