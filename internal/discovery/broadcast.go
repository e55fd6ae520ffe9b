// Package discovery lets remotes find servers on the local network. Servers
// advertise their TCP port with a UDP broadcast once per interval; remotes
// listen on the discovery port and take the first valid announcement.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/1ureka/fluxnet/internal/util"
)

// Prefix starts every announcement datagram. The decimal TCP port follows.
const Prefix = "enchant server "

// BroadcastHost is the limited broadcast address announcements go to.
const BroadcastHost = "255.255.255.255"

// ErrNoServer is returned when no announcement arrives in time.
var ErrNoServer = errors.New("discovery: no server found")

// Announcement is a server seen on the network.
type Announcement struct {
	Host string
	Port int
}

// Addr returns host:port suitable for dialing.
func (a Announcement) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// FormatAnnouncement builds the datagram a server broadcasts.
func FormatAnnouncement(port int) []byte {
	return []byte(Prefix + strconv.Itoa(port))
}

// ParseAnnouncement extracts the TCP port from a datagram. Datagrams without
// the prefix or with a port outside 1..65535 are rejected.
func ParseAnnouncement(b []byte) (int, bool) {
	rest, ok := bytes.CutPrefix(b, []byte(Prefix))
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(string(bytes.TrimSpace(rest)))
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

// Advertiser periodically announces a server's port.
type Advertiser struct {
	Port     int           // advertised TCP port
	Target   string        // destination host:port
	Interval time.Duration // time between announcements
}

// NewAdvertiser announces port to the broadcast address on discoveryPort.
func NewAdvertiser(port, discoveryPort int, interval time.Duration) *Advertiser {
	return &Advertiser{
		Port:     port,
		Target:   net.JoinHostPort(BroadcastHost, strconv.Itoa(discoveryPort)),
		Interval: interval,
	}
}

// Run announces immediately and then once per interval until ctx is done.
// Send failures are logged once per failing streak and retried on the next
// interval.
func (a *Advertiser) Run(ctx context.Context) error {
	dst, err := net.ResolveUDPAddr("udp4", a.Target)
	if err != nil {
		return fmt.Errorf("discovery: resolve %s: %w", a.Target, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("discovery: open advertiser socket: %w", err)
	}
	defer conn.Close()

	msg := FormatAnnouncement(a.Port)
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	util.LogDebug("[discovery] advertising port %d to %s every %s", a.Port, a.Target, a.Interval)

	failing := false
	for {
		if _, err := conn.WriteToUDP(msg, dst); err != nil {
			if !failing {
				util.LogWarning("[discovery] failed to send announcement: %v", err)
			}
			failing = true
		} else {
			failing = false
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Find listens on discoveryPort for up to timeout and returns the first
// server announcement.
func Find(ctx context.Context, discoveryPort int, timeout time.Duration) (Announcement, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", discoveryPort))
	if err != nil {
		return Announcement{}, fmt.Errorf("discovery: listen on %d: %w", discoveryPort, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return find(ctx, conn)
}

func find(ctx context.Context, conn net.PacketConn) (Announcement, error) {
	// Unblock ReadFrom as soon as ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 512)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				return Announcement{}, ErrNoServer
			case ctx.Err() != nil:
				return Announcement{}, ctx.Err()
			}
			return Announcement{}, fmt.Errorf("discovery: read: %w", err)
		}

		port, ok := ParseAnnouncement(buf[:n])
		if !ok {
			continue
		}
		udpAddr, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		ann := Announcement{Host: udpAddr.IP.String(), Port: port}
		util.LogDebug("[discovery] found server at %s", ann.Addr())
		return ann, nil
	}
}
