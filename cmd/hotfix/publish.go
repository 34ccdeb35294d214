package main

import (
	"context"
	"flag"
	"fmt"
)

func runPublish(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	fs.Parse(args)

	pub, err := env.publisher()
	if err != nil {
		return err
	}
	catalog, err := pub.Publish(ctx)
	if err != nil {
		return err
	}
	for _, e := range catalog.Entries {
		fmt.Printf("%s  %s (%d bytes)\n", e.Handle, e.Binary, e.Size)
	}
	return nil
}
