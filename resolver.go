package atomicmail

import (
	"context"
	"net"
)

// Resolver describes the DNS-related methods the send pipeline needs for MX
// resolution, address lookups and TXT lookups. net.DefaultResolver implements
// it.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) (names []string, err error)
	LookupHost(ctx context.Context, host string) (addrs []string, err error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}
