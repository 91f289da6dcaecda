// Command datacorectl is a small demonstrator CLI over the three cores in
// this module: the Cap'n Proto codec, the binary fuse filter, and the
// funnel hash table. It exists to exercise each package end-to-end from
// the command line; it carries no business logic of its own.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cloudflare/datacore/logger"
)

var (
	// Version is stamped at build time via -ldflags.
	Version = "DEV"
)

func main() {
	app := &cli.App{
		Name:    "datacorectl",
		Usage:   "encode/decode Cap'n Proto messages, build fuse filters, and benchmark funnel tables",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    logger.LogLevelFlag,
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "log level: debug, info, error, fatal",
			},
			&cli.StringFlag{
				Name:  logger.LogFileFlag,
				Usage: "also write logs to this file",
			},
		},
		Commands: []*cli.Command{
			capnpCommand(),
			fuseCommand(),
			funnelCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
