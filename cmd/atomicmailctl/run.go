package main

import (
	"fmt"

	"github.com/nyholt/atomicmail"
	"github.com/urfave/cli/v2"
)

// runCommand opens the store and queue from a settings envelope and blocks
// until a shutdown signal arrives, the Go counterpart of CmdRun in
// OgnTestCmdRun.cpp (which polled for a keypress instead of POSIX signals).
func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the send queue standalone until a shutdown signal arrives",
		Flags: []cli.Flag{stgsFlag(), stateDirFlag()},
		Action: func(ctx *cli.Context) error {
			p, err := openPipeline(ctx.Path("state-dir"), ctx.Path("stgs"))
			if err != nil {
				return cli.Exit(err, 1)
			}

			p.log.Printf("queue running, state dir %s", ctx.Path("state-dir"))
			sig := atomicmail.HandleSignals()
			p.log.Printf("shutting down (signal %v)", sig)

			if err := p.close(); err != nil {
				return cli.Exit(err, 1)
			}
			fmt.Println("stopped")
			return nil
		},
	}
}
