package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/narvanalabs/hotfix/internal/store"
)

func runHistory(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	runID := fs.String("run", "", "Show every outcome of a sync run")
	fs.Parse(args)

	if env.history == nil {
		return errors.New("build history requires DATABASE_URL")
	}

	var records []*store.Record
	switch {
	case *runID != "":
		rs, err := env.history.ListByRun(ctx, *runID)
		if err != nil {
			return err
		}
		records = rs
	case fs.NArg() > 0:
		for _, module := range fs.Args() {
			r, err := env.history.Latest(ctx, module)
			if errors.Is(err, store.ErrNotFound) {
				fmt.Printf("%s: never built\n", module)
				continue
			}
			if err != nil {
				return err
			}
			records = append(records, r)
		}
	default:
		return errors.New("history requires -run or at least one module name")
	}

	for _, r := range records {
		line := fmt.Sprintf("%s  %-8s %-24s %s", r.RecordedAt.Format("2006-01-02 15:04:05"), r.Status, r.Module, r.RunID)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
	return nil
}
