// Package main provides the hotfix command-line tool: it rebuilds hotfix
// modules, keeps them out of player builds, publishes them and test-loads them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{"sync", "sync [-force]                rebuild stale hotfix modules", runSync},
	{"filter", "filter [path ...]            drop hotfix binaries from a player build list (stdin when no args)", runFilter},
	{"postprocess", "postprocess <build-dir>      remove leaked hotfix binaries from a built player", runPostProcess},
	{"publish", "publish                      upload built modules and the catalog", runPublish},
	{"load", "load [-test] [-plugins dir]  fetch, load and initialize hotfix modules", runLoad},
	{"history", "history [-run id] [module]   show recorded build outcomes", runHistory},
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: hotfix <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands {
		fmt.Fprintln(os.Stderr, "  "+c.usage)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	name := flag.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		usage()
		os.Exit(2)
	}

	env, err := newEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer env.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.run(ctx, env, flag.Args()[1:]); err != nil {
		env.log.Error(name+" failed", "error", err)
		env.Close()
		os.Exit(1)
	}
}
