package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/narvanalabs/hotfix/internal/builder"
	"github.com/narvanalabs/hotfix/internal/models"
)

func runSync(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	force := fs.Bool("force", false, "Rebuild every module regardless of timestamps")
	noPublish := fs.Bool("no-publish", false, "Skip refreshing the delivery catalog after the sync")
	fs.Parse(args)

	opts := []builder.Option{
		builder.WithHostState(&builder.MarkerHostState{Markers: env.cfg.Build.BusyMarkers}),
		builder.WithSettingsStore(env.settingsFile),
	}
	if !*noPublish {
		pub, err := env.publisher()
		if err != nil {
			return err
		}
		opts = append(opts, builder.WithAssetIndex(pub))
	}
	if env.history != nil {
		opts = append(opts, builder.WithHistory(env.history))
	}

	compiler := builder.NewCommandCompiler(env.cfg.Build.CompilerPath, env.cfg.Build.CompileTimeout, env.log.Logger)
	orch := builder.NewOrchestrator(builder.OrchestratorConfigFrom(env.cfg), env.settings, compiler, env.log.Logger, opts...)

	outcomes, err := orch.Sync(ctx, *force)
	if err != nil {
		return err
	}

	failed := 0
	for _, o := range outcomes {
		fmt.Printf("%-8s %s\n", o.Status, o.Module)
		for _, d := range o.Diagnostics {
			fmt.Printf("         %s\n", formatDiagnostic(d))
		}
		if !o.Success() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d modules failed to build", failed, len(outcomes))
	}
	return nil
}

func formatDiagnostic(d models.Diagnostic) string {
	loc := d.File
	if loc != "" && d.Line > 0 {
		loc = fmt.Sprintf("%s(%d,%d)", d.File, d.Line, d.Column)
	}
	if loc != "" {
		loc += ": "
	}
	code := ""
	if d.Code != "" {
		code = " " + d.Code
	}
	return fmt.Sprintf("%s%s%s: %s", loc, d.Severity, code, d.Message)
}
