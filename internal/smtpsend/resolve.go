package smtpsend

import (
	"context"
	"net"
	"sort"

	"github.com/nyholt/atomicmail/framework/dns"
	"github.com/nyholt/atomicmail/framework/exterrors"
	"golang.org/x/net/idna"
)

const smtpPort = "25"

// ResolveMX looks up and preference-sorts MX records for domain, falling
// back to an implicit MX pointing at the domain itself per RFC 5321 Section
// 5.1 when none are published — grounded on remote.go's lookupMX, minus the
// DNSSEC/ExtResolver branch (internal/smtpsend has no DANE support, noted in
// its design doc rather than half-wired).
func ResolveMX(ctx context.Context, resolver dns.Resolver, domain string) ([]*net.MX, error) {
	records, err := resolver.LookupMX(ctx, dns.FQDN(domain))
	if err != nil {
		reason, misc := exterrors.UnwrapDNSErr(err)
		return nil, &exterrors.SMTPError{
			Code:         exterrors.SMTPCode(err, 451, 554),
			EnhancedCode: exterrors.SMTPEnchCode(err, exterrors.EnhancedCode{0, 4, 4}),
			Message:      "MX lookup error",
			TargetName:   "smtpsend",
			Reason:       reason,
			Err:          err,
			Misc:         misc,
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})

	if len(records) == 0 {
		records = append(records, &net.MX{Host: domain, Pref: 0})
	}

	return records, nil
}

// ToACE converts a domain/hostname to its ASCII-compatible-encoding form for
// use in EHLO and DNS lookups, mirroring remote.go's idna.ToASCII call on
// rt.hostname.
func ToACE(name string) (string, error) {
	return idna.ToASCII(name)
}
