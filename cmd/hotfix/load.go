package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/narvanalabs/hotfix/internal/delivery"
	"github.com/narvanalabs/hotfix/internal/loader"
)

func runLoad(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	testLoad := fs.Bool("test", env.settings.TestLoad, "Load artifacts from their output folders instead of the delivery server")
	pluginDir := fs.String("plugins", "", "Directory to stage plugin binaries in (default: temporary)")
	fs.Parse(args)

	var (
		entries []loader.Entry
		fetcher loader.Fetcher
	)
	if *testLoad {
		local, err := delivery.LocalEntries(env.cfg.ProjectRoot, env.settings)
		if err != nil {
			return err
		}
		entries = loader.LocalEntries(local)
		fetcher = &delivery.DirFetcher{Root: env.cfg.ProjectRoot}
	} else {
		client := delivery.NewHTTPClient(env.cfg.Delivery.Endpoint, env.cfg.Delivery.FetchTimeout,
			delivery.WithToken(env.cfg.Delivery.PublishToken))
		catalog, err := client.Catalog(ctx)
		if err != nil {
			return fmt.Errorf("fetching catalog: %w", err)
		}
		entries = loader.CatalogEntries(catalog)
		sealed := &delivery.SealedFetcher{Fetcher: client, Sealed: catalog.SealedHandles()}
		if env.sealer.CanOpen() {
			sealed.Opener = env.sealer
		}
		fetcher = sealed
	}

	modules, err := loader.NewPluginLoader(*pluginDir, env.log.Logger)
	if err != nil {
		return err
	}

	l := loader.New(entries, fetcher, modules, env.log.Logger, loader.WithStateObserver(func(s loader.State) {
		env.log.Debug("loader state", "state", s.String())
	}))
	report, err := l.Run(ctx)
	if err != nil {
		return err
	}

	for _, name := range report.Loaded {
		fmt.Printf("loaded      %s\n", name)
	}
	for _, name := range report.Initialized {
		fmt.Printf("initialized %s\n", name)
	}
	for _, f := range report.Failures {
		fmt.Printf("failed      %v\n", f)
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d initializers failed", len(report.Failures))
	}
	return nil
}
