package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"

	"github.com/1ureka/fluxnet/internal/util"
)

const (
	mdnsService = "_fluxnet._tcp"
	mdnsDomain  = "local."
)

// MDNSRegistration is a live mDNS service record.
type MDNSRegistration struct {
	server *zeroconf.Server
}

// RegisterMDNS publishes the server's port as a _fluxnet._tcp service.
func RegisterMDNS(port int) (*MDNSRegistration, error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("fluxnet-%s-%d", host, port),
		mdnsService,
		mdnsDomain,
		port,
		[]string{"txtv=0", fmt.Sprintf("port=%d", port)},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: register mDNS service: %w", err)
	}
	util.LogDebug("[discovery] mDNS service registered on port %d", port)
	return &MDNSRegistration{server: server}, nil
}

// Shutdown withdraws the service record.
func (r *MDNSRegistration) Shutdown() {
	r.server.Shutdown()
}

// BrowseMDNS returns the first _fluxnet._tcp service with an IPv4 address,
// or ErrNoServer once ctx expires.
func BrowseMDNS(ctx context.Context) (Announcement, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Announcement{}, fmt.Errorf("discovery: init mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan Announcement, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			if len(entry.AddrIPv4) == 0 {
				continue
			}
			select {
			case found <- Announcement{Host: entry.AddrIPv4[0].String(), Port: entry.Port}:
			default:
			}
		}
	}(entries)

	if err := resolver.Browse(ctx, mdnsService, mdnsDomain, entries); err != nil {
		return Announcement{}, fmt.Errorf("discovery: browse mDNS: %w", err)
	}

	select {
	case ann := <-found:
		util.LogDebug("[discovery] mDNS found server at %s", ann.Addr())
		return ann, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Announcement{}, ErrNoServer
		}
		return Announcement{}, ctx.Err()
	}
}
