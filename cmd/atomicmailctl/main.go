// Command atomicmailctl is the administration and diagnostic front-end for
// the outbound send pipeline: it generates and publishes DKIM keys, composes
// test messages, inspects address-list parsing, and runs the queue/sender
// pair either standalone ("run") or with one message pre-enqueued
// ("sendmsg") — the Go counterpart of the original OgnTest harness, restyled
// as a single urfave/cli application the way cmd/maddyctl is.
package main

import (
	"fmt"
	"os"

	"github.com/nyholt/atomicmail"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "atomicmailctl"
	app.Usage = "atomicmail send-pipeline administration and test utility"
	app.Version = atomicmail.BuildInfo()
	app.ExitErrHandler = func(ctx *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			cli.OsExiter(1)
		}
	}

	app.Commands = []*cli.Command{
		enumsCommand(),
		addrsCommand(),
		dkimGenCommand(),
		dkimPubCommand(),
		genMsgCommand(),
		runCommand(),
		sendMsgCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
