package main

import (
	"fmt"
	"os"

	"github.com/nyholt/atomicmail/internal/dkim"
	"github.com/nyholt/atomicmail/internal/entitystore"
	"github.com/urfave/cli/v2"
)

// dkimGenCommand generates a fresh signing key and writes the PEM-encoded
// private key plus its DNS publication value to outfile, the Go counterpart
// of OgnTestCmdDkimGen.cpp (which wrote hex(privKeyBin) + pubKeyText). When
// -store is given the key is also persisted under an entitystore.Store via
// dkim.KeyStore, so "run"/"sendmsg" can load it back by domain+selector
// instead of re-reading the file.
func dkimGenCommand() *cli.Command {
	return &cli.Command{
		Name:      "dkimgen",
		Usage:     "Generate a DKIM signing key and its DNS publication record",
		ArgsUsage: "<domain> <selector> <outfile>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "algo", Usage: "rsa4096, rsa2048 or ed25519", Value: string(dkim.RSA2048)},
			&cli.DurationFlag{Name: "expiry", Usage: "key validity, 0 disables expiration"},
			&cli.PathFlag{Name: "store", Usage: "entitystore directory to also persist the key under"},
		},
		Action: func(ctx *cli.Context) error {
			args := ctx.Args()
			if args.Len() != 3 {
				return cli.Exit("usage: dkimgen <domain> <selector> <outfile>", 2)
			}
			domain, selector, outfile := args.Get(0), args.Get(1), args.Get(2)

			gk, err := dkim.GenerateKey(domain, selector, dkim.KeyAlgo(ctx.String("algo")), ctx.Duration("expiry"))
			if err != nil {
				return cli.Exit(err, 1)
			}

			out := append(append([]byte{}, gk.PrivateKeyPEM...), "\r\n"+gk.DNSValue+"\r\n"...)
			if err := os.WriteFile(outfile, out, 0o600); err != nil {
				return cli.Exit(err, 1)
			}
			fmt.Printf("wrote %s key for %s to %s\n", gk.KeyAlgo, gk.DNSName, outfile)

			if dir := ctx.Path("store"); dir != "" {
				store, err := entitystore.Open(dir)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer store.Close()
				if err := dkim.NewKeyStore(store).Save(gk); err != nil {
					return cli.Exit(err, 1)
				}
				fmt.Printf("persisted key under %s\n", dir)
			}
			return nil
		},
	}
}

// dkimPubCommand loads a bare private key file and prints just the DNS TXT
// record value it publishes, the Go counterpart of OgnTestCmdDkimPub.cpp.
func dkimPubCommand() *cli.Command {
	return &cli.Command{
		Name:      "dkimpub",
		Usage:     "Print the DNS publication value for a DKIM private key file",
		ArgsUsage: "<keyfile>",
		Action: func(ctx *cli.Context) error {
			if ctx.Args().Len() != 1 {
				return cli.Exit("usage: dkimpub <keyfile>", 2)
			}
			pemBlob, err := os.ReadFile(ctx.Args().First())
			if err != nil {
				return cli.Exit(err, 1)
			}
			signer, err := dkim.LoadKey(pemBlob)
			if err != nil {
				return cli.Exit(err, 1)
			}
			value, err := dkim.PublicDNSValue(signer)
			if err != nil {
				return cli.Exit(err, 1)
			}
			fmt.Println(value)
			return nil
		},
	}
}
