package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestParseAnnouncement(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		port int
		ok   bool
	}{
		{"valid", "enchant server 8080", 8080, true},
		{"trailing newline", "enchant server 18080\n", 18080, true},
		{"foreign prefix", "other server 8080", 0, false},
		{"missing port", "enchant server ", 0, false},
		{"not a number", "enchant server eighty", 0, false},
		{"zero port", "enchant server 0", 0, false},
		{"out of range", "enchant server 70000", 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			port, ok := ParseAnnouncement([]byte(tc.in))
			if ok != tc.ok || port != tc.port {
				t.Errorf("ParseAnnouncement(%q) = %d, %v; want %d, %v", tc.in, port, ok, tc.port, tc.ok)
			}
		})
	}

	if got := string(FormatAnnouncement(8080)); got != "enchant server 8080" {
		t.Errorf("FormatAnnouncement = %q", got)
	}
}

func listenLoopback(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAdvertiserIsFound(t *testing.T) {
	conn := listenLoopback(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adv := &Advertiser{Port: 18080, Target: conn.LocalAddr().String(), Interval: 20 * time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- adv.Run(ctx) }()

	findCtx, findCancel := context.WithTimeout(ctx, 5*time.Second)
	defer findCancel()
	ann, err := find(findCtx, conn)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if ann.Port != 18080 || ann.Host != "127.0.0.1" {
		t.Errorf("got %+v, want 127.0.0.1:18080", ann)
	}
	if ann.Addr() != "127.0.0.1:18080" {
		t.Errorf("Addr = %q", ann.Addr())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("advertiser did not stop")
	}
}

func TestFindSkipsForeignDatagrams(t *testing.T) {
	conn := listenLoopback(t)

	sender, err := net.Dial("udp4", conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	go func() {
		sender.Write([]byte("hello there"))
		sender.Write([]byte("enchant server nope"))
		sender.Write(FormatAnnouncement(9000))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ann, err := find(ctx, conn)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if ann.Port != 9000 {
		t.Errorf("port = %d, want 9000", ann.Port)
	}
}

func TestFindTimesOut(t *testing.T) {
	conn := listenLoopback(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := find(ctx, conn)
	if !errors.Is(err, ErrNoServer) {
		t.Fatalf("got %v, want ErrNoServer", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %s", time.Since(start))
	}
}

func TestFindCancelled(t *testing.T) {
	conn := listenLoopback(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := find(ctx, conn); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestNewAdvertiserTargetsBroadcast(t *testing.T) {
	adv := NewAdvertiser(8080, 15000, time.Second)
	if adv.Target != net.JoinHostPort(BroadcastHost, strconv.Itoa(15000)) {
		t.Errorf("Target = %q", adv.Target)
	}
}
