package main

import (
	"fmt"

	"github.com/nyholt/atomicmail/internal/dkim"
	"github.com/nyholt/atomicmail/internal/smtpsend"
	"github.com/urfave/cli/v2"
)

// enumValue is one name/value/description row, the Go analogue of the
// CMDENUMS_MAP triples OgnTestCmdEnums.cpp printed for each of its enum
// types.
type enumValue struct {
	Name        string
	Value       string
	Description string
}

type enumGroup struct {
	Title  string
	Values []enumValue
}

var enumGroups = []enumGroup{
	{
		Title: "smtpsend.AuthMechanism",
		Values: []enumValue{
			{"AuthOff", string(smtpsend.AuthOff), "no authentication attempted"},
			{"AuthPlain", string(smtpsend.AuthPlain), "SASL PLAIN"},
			{"AuthLogin", string(smtpsend.AuthLogin), "SASL LOGIN"},
			{"AuthCramMD5", string(smtpsend.AuthCramMD5), "SASL CRAM-MD5"},
			{"AuthExternal", string(smtpsend.AuthExternal), "SASL EXTERNAL (client certificate)"},
		},
	},
	{
		Title: "smtpsend.TlsAssurance",
		Values: []enumValue{
			{"TlsNone", smtpsend.TlsNone.String(), "connection was never TLS-protected"},
			{"TlsUnverified", smtpsend.TlsUnverified.String(), "TLS negotiated, certificate not validated"},
			{"TlsDomainMatch", smtpsend.TlsDomainMatch.String(), "certificate validated against system trust store"},
			{"TlsTofuOnly", smtpsend.TlsTofuOnly.String(), "no prior pin; this certificate recorded as baseline"},
			{"TlsTofuPinned", smtpsend.TlsTofuPinned.String(), "certificate matches a previously recorded pin"},
		},
	},
	{
		Title: "dkim.KeyAlgo",
		Values: []enumValue{
			{"RSA4096", string(dkim.RSA4096), "4096-bit RSA signing key"},
			{"RSA2048", string(dkim.RSA2048), "2048-bit RSA signing key"},
			{"Ed25519", string(dkim.Ed25519), "Ed25519 signing key"},
		},
	},
	{
		Title: "dkim.State",
		Values: []enumValue{
			{"None", dkim.None.String(), "no DKIM-Signature field present"},
			{"Parsed", dkim.Parsed.String(), "signature field present, not yet verified"},
			{"Verified", dkim.Verified.String(), "signature verified successfully"},
			{"Failed", dkim.Failed.String(), "signature present but verification failed"},
		},
	},
	{
		// smtpqueue.SendAttemptLog.ErrorClass is a plain string field, not a
		// Go enum type, so there is nothing to range over reflectively; list
		// the three values internal/smtpqueue/entities.go's doc comment
		// names by hand.
		Title: "smtpqueue.SendAttemptLog.ErrorClass",
		Values: []enumValue{
			{"-", "none", "attempt succeeded"},
			{"-", "temporary", "attempt failed with a retryable error"},
			{"-", "permanent", "attempt failed with a non-retryable error"},
		},
	},
}

// enumsCommand prints every enum type this utility's other subcommands deal
// with, the Go counterpart of "atomicmailctl enums" 's OgnTestCmdEnums
// ancestor: a quick reference for what value the -algo flag or the
// relayAuthType settings directive accepts.
func enumsCommand() *cli.Command {
	return &cli.Command{
		Name:  "enums",
		Usage: "List the named enum values this utility's flags accept",
		Action: func(ctx *cli.Context) error {
			for i, g := range enumGroups {
				if i > 0 {
					fmt.Println()
				}
				fmt.Println(g.Title)
				for _, v := range g.Values {
					fmt.Printf("  %-14s %-14s %s\n", v.Name, v.Value, v.Description)
				}
			}
			return nil
		},
	}
}
