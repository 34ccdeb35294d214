package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/narvanalabs/hotfix/internal/playerfilter"
)

func (e *environment) filter() (*playerfilter.Filter, error) {
	names, err := playerfilter.ModuleNames(e.cfg.ProjectRoot, e.settings.Assemblies)
	if err != nil {
		return nil, err
	}
	return playerfilter.NewFilter(names, e.log.Logger), nil
}

func runFilter(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				paths = append(paths, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading paths: %w", err)
		}
	}

	f, err := env.filter()
	if err != nil {
		return err
	}
	for _, p := range f.FilterForPlayerBuild(paths) {
		fmt.Println(p)
	}
	return nil
}

func runPostProcess(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("postprocess", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("postprocess requires the built player directory")
	}

	f, err := env.filter()
	if err != nil {
		return err
	}
	report, err := f.PostProcessBuiltPlayer(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	if !report.Changed() {
		fmt.Printf("%s: clean\n", report.DataDir)
		return nil
	}
	for _, p := range report.Deleted {
		fmt.Printf("deleted  %s\n", filepath.Base(p))
	}
	for _, name := range report.ManifestRemoved {
		fmt.Printf("unlisted %s\n", name)
	}
	return nil
}
