package main

import (
	"fmt"
	"os"

	"github.com/nyholt/atomicmail/internal/imf"
	"github.com/urfave/cli/v2"
)

// defaultAddrsSample exercises the casual address-list grammar's edge
// cases the same way OgnTestCmdAddrs.cpp's hardcoded test string did: a
// group, a quoted display name, a parenthesized comment, and a folded
// (multi-line) mailbox.
const defaultAddrsSample = `"Doe, John" <john.doe@example.com>, jane@example.org (work),
Sales: bob@example.com, "Carol \"The Closer\"" <carol@example.net>;,
  folded@example.com`

// addrsCommand parses an address list, casually, and prints each entry's
// display name / local-part / domain breakdown — the Go counterpart of
// OgnTestCmdAddrs.cpp, which calls Originator_ForEachAddressInCasualEmail
// AddressList then Originator_SplitMailbox on each hit.
func addrsCommand() *cli.Command {
	return &cli.Command{
		Name:      "addrs",
		Usage:     "Parse a casual address list and print its address breakdown",
		ArgsUsage: "[file]",
		Action: func(ctx *cli.Context) error {
			var input []byte
			if file := ctx.Args().First(); file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return cli.Exit(err, 1)
				}
				input = b
			} else {
				input = []byte(defaultAddrsSample)
			}

			mailboxes, diag, count := imf.ExtractMailboxes(input)
			if diag != "" {
				fmt.Println(diag)
				return nil
			}

			fmt.Printf("%d addresses\n", count)
			for _, mb := range mailboxes {
				fmt.Println(mb.AddrSpec)
				fmt.Printf("  name:      %q\n", mb.DisplayName)
				fmt.Printf("  localPart: %s\n", mb.LocalPart)
				fmt.Printf("  domain:    %s\n", mb.Domain)
			}
			return nil
		},
	}
}
