package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/WithoutAName25/ipfs-lab/cli"
)

var log = logging.Logger("ipfs-lab")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := cli.NewRootCommand(os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}
}
