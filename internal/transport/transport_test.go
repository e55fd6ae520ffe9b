package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/fluxnet/internal/buffer"
	"github.com/1ureka/fluxnet/internal/peer"
	"github.com/1ureka/fluxnet/internal/protocol"
)

const testBufSize = 256 * 1024

func newCodec(t *testing.T) *protocol.Codec {
	t.Helper()
	r := protocol.NewRegistry()
	protocol.RegisterBuiltins(r)
	c, err := protocol.NewCodec(r)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func mustEncode(t *testing.T, c *protocol.Codec, p protocol.Packet) []byte {
	t.Helper()
	frame, err := c.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return frame
}

func putInt32(b []byte, v int32) {
	binary.NativeEndian.PutUint32(b, uint32(v))
}

// feed copies data into the parser's tail and commits it as a single read.
func feed(t *testing.T, f *FrameParser, data []byte) ([]protocol.Packet, error) {
	t.Helper()
	var out []protocol.Packet
	n := copy(f.Tail(), data)
	if n != len(data) {
		t.Fatalf("tail too small: %d < %d", n, len(data))
	}
	err := f.Commit(n, func(p protocol.Packet) { out = append(out, p) })
	return out, err
}

// noise returns n bytes zstd cannot shrink.
func noise(n int) string {
	r := rand.New(rand.NewPCG(1, 2))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return string(b)
}

func messages(t *testing.T, pkts []protocol.Packet) []string {
	t.Helper()
	var out []string
	for _, p := range pkts {
		d, ok := p.(*protocol.Debug)
		if !ok {
			t.Fatalf("got %T, want *protocol.Debug", p)
		}
		out = append(out, d.Message)
	}
	return out
}

// ---------------------------------------------------------------------------
// FrameParser
// ---------------------------------------------------------------------------

func TestParserTwoFramesInOneRead(t *testing.T) {
	c := newCodec(t)
	f := NewFrameParser(c, testBufSize)

	data := append(mustEncode(t, c, &protocol.Debug{Message: "first"}),
		mustEncode(t, c, &protocol.Debug{Message: "second"})...)

	pkts, err := feed(t, f, data)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got := messages(t, pkts)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("got %v, want [first second]", got)
	}
	if f.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", f.Buffered())
	}
	if f.buf.WritePos() != 0 {
		t.Errorf("buffer not cleared: write pos %d", f.buf.WritePos())
	}
}

func TestParserKeepsPartialLengthPrefix(t *testing.T) {
	c := newCodec(t)
	f := NewFrameParser(c, testBufSize)

	first := mustEncode(t, c, &protocol.Debug{Message: "whole"})
	second := mustEncode(t, c, &protocol.Debug{Message: "split"})

	pkts, err := feed(t, f, append(append([]byte{}, first...), second[:2]...))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := messages(t, pkts); len(got) != 1 || got[0] != "whole" {
		t.Fatalf("got %v, want [whole]", got)
	}
	if f.Buffered() != 2 {
		t.Fatalf("Buffered = %d, want the 2 prefix bytes", f.Buffered())
	}

	pkts, err = feed(t, f, second[2:])
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := messages(t, pkts); len(got) != 1 || got[0] != "split" {
		t.Fatalf("got %v, want [split]", got)
	}
	if f.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", f.Buffered())
	}
}

func TestParserFrameSplitInsidePayload(t *testing.T) {
	c := newCodec(t)
	f := NewFrameParser(c, testBufSize)
	frame := mustEncode(t, c, &protocol.Debug{Message: "fragmented payload"})

	for i := 0; i < len(frame)-1; i++ {
		pkts, err := feed(t, f, frame[i:i+1])
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		if len(pkts) != 0 {
			t.Fatalf("byte %d: packet emitted early", i)
		}
	}
	pkts, err := feed(t, f, frame[len(frame)-1:])
	if err != nil {
		t.Fatal(err)
	}
	if got := messages(t, pkts); len(got) != 1 || got[0] != "fragmented payload" {
		t.Fatalf("got %v", got)
	}
}

func TestParserCompactsUnderSustainedTraffic(t *testing.T) {
	c := newCodec(t)
	f := NewFrameParser(c, 2*protocol.MaxFrameSize+1)

	frame := mustEncode(t, c, &protocol.Debug{Message: "steady"})
	total := 0
	// Push far more bytes than the buffer holds, split at an odd stride so
	// frames straddle reads.
	var stream []byte
	for i := 0; i < 5000; i++ {
		stream = append(stream, frame...)
	}
	for off := 0; off < len(stream); off += 997 {
		end := off + 997
		if end > len(stream) {
			end = len(stream)
		}
		pkts, err := feed(t, f, stream[off:end])
		if err != nil {
			t.Fatalf("offset %d: %v", off, err)
		}
		total += len(pkts)
	}
	if total != 5000 {
		t.Errorf("parsed %d frames, want 5000", total)
	}
}

func TestParserRejectsBadLengths(t *testing.T) {
	c := newCodec(t)

	testCases := []struct {
		name   string
		length int32
		want   error
	}{
		{"negative", -1, protocol.ErrMalformedFrame},
		{"oversized", protocol.MaxPayloadSize + 1, protocol.ErrFrameTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFrameParser(c, testBufSize)
			var hdr [4]byte
			putInt32(hdr[:], tc.length)
			_, err := feed(t, f, hdr[:])
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParserRaisesSmallBuffer(t *testing.T) {
	c := newCodec(t)
	f := NewFrameParser(c, 4096)

	msg := noise(6000)
	frame := mustEncode(t, c, &protocol.Debug{Message: msg})
	if len(frame) <= 4096 {
		t.Fatalf("frame is %d bytes, want more than the requested buffer", len(frame))
	}

	var got []protocol.Packet
	for off := 0; off < len(frame); off += 1000 {
		end := min(off+1000, len(frame))
		pkts, err := feed(t, f, frame[off:end])
		if err != nil {
			t.Fatalf("offset %d: %v", off, err)
		}
		got = append(got, pkts...)
	}
	if m := messages(t, got); len(m) != 1 || m[0] != msg {
		t.Fatalf("got %d packets, want the one large message", len(got))
	}
}

func TestParserFullBufferWithoutFrame(t *testing.T) {
	c := newCodec(t)
	f := &FrameParser{codec: c, buf: buffer.New(16)}

	data := make([]byte, 16)
	putInt32(data, 100)
	_, err := feed(t, f, data)
	if !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Fatalf("got %v, want %v", err, protocol.ErrFrameTooLarge)
	}
}

// ---------------------------------------------------------------------------
// Channel
// ---------------------------------------------------------------------------

type collector struct {
	mu     sync.Mutex
	pkts   []protocol.Packet
	closed chan error
}

func newCollector() *collector {
	return &collector{closed: make(chan error, 1)}
}

func (c *collector) deliver(p protocol.Packet) {
	c.mu.Lock()
	c.pkts = append(c.pkts, p)
	c.mu.Unlock()
}

func (c *collector) onClose(_ *Channel, cause error) {
	c.closed <- cause
}

func (c *collector) snapshot() []protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Packet(nil), c.pkts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testOptions() Options {
	return Options{RecvBufferSize: testBufSize, SendQueueSize: 4096}
}

func TestChannelDeliversInFIFOOrder(t *testing.T) {
	c := newCodec(t)
	left, right := net.Pipe()

	sender := NewChannel(peer.Nil, left, c, testOptions())
	receiverID := peer.New()
	receiver := NewChannel(receiverID, right, c, testOptions())

	sink := newCollector()
	sender.Start(func(protocol.Packet) {}, func(*Channel, error) {})
	receiver.Start(sink.deliver, sink.onClose)
	defer func() {
		sender.Close()
		receiver.Close()
		sender.Wait()
		receiver.Wait()
	}()

	const n = 500
	for i := 0; i < n; i++ {
		var p protocol.Packet = &protocol.Debug{Message: strconv.Itoa(i)}
		if i%7 == 0 {
			p = &protocol.Heartbeat{}
		}
		if err := sender.Send(mustEncode(t, c, p)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	waitFor(t, "all packets", func() bool { return len(sink.snapshot()) == n })

	for i, p := range sink.snapshot() {
		if p.Sender() != receiverID {
			t.Fatalf("packet %d sender = %s, want %s", i, p.Sender(), receiverID)
		}
		if i%7 == 0 {
			if _, ok := p.(*protocol.Heartbeat); !ok {
				t.Fatalf("packet %d is %T, want heartbeat", i, p)
			}
			continue
		}
		d, ok := p.(*protocol.Debug)
		if !ok || d.Message != strconv.Itoa(i) {
			t.Fatalf("packet %d out of order: %#v", i, p)
		}
	}
}

func TestChannelSendQueueBackpressure(t *testing.T) {
	c := newCodec(t)
	left, right := net.Pipe()
	defer right.Close()

	ch := NewChannel(peer.New(), left, c, Options{RecvBufferSize: testBufSize, SendQueueSize: 2})
	frame := mustEncode(t, c, &protocol.Heartbeat{})

	// Not started: nothing drains the queue.
	for i := 0; i < 2; i++ {
		if err := ch.Send(frame); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := ch.Send(frame); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("third Send: got %v, want ErrSendQueueFull", err)
	}

	ch.Close()
	if err := ch.Send(frame); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Send after Close: got %v, want ErrChannelClosed", err)
	}
}

func TestChannelSmallRecvBufferDeliversLargeFrame(t *testing.T) {
	c := newCodec(t)
	left, right := net.Pipe()

	opts := Options{RecvBufferSize: 4096, SendQueueSize: 16}
	sender := NewChannel(peer.Nil, left, c, opts)
	receiver := NewChannel(peer.New(), right, c, opts)

	sink := newCollector()
	sender.Start(func(protocol.Packet) {}, func(*Channel, error) {})
	receiver.Start(sink.deliver, sink.onClose)
	defer func() {
		sender.Close()
		receiver.Close()
		sender.Wait()
		receiver.Wait()
	}()

	msg := noise(6000)
	if err := sender.Send(mustEncode(t, c, &protocol.Debug{Message: msg})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "large frame", func() bool { return len(sink.snapshot()) == 1 })
	if m := messages(t, sink.snapshot()); m[0] != msg {
		t.Error("large message corrupted")
	}
}

func TestChannelClosesOnProtocolViolation(t *testing.T) {
	c := newCodec(t)
	left, right := net.Pipe()
	defer right.Close()

	ch := NewChannel(peer.New(), left, c, testOptions())
	sink := newCollector()
	ch.Start(sink.deliver, sink.onClose)

	var hdr [4]byte
	putInt32(hdr[:], 5)
	go func() {
		right.Write(hdr[:])
		right.Write([]byte("junk!"))
	}()

	select {
	case cause := <-sink.closed:
		if !IsProtocolError(cause) || !errors.Is(cause, protocol.ErrDecompress) {
			t.Fatalf("cause = %v, want decompression failure", cause)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after garbage frame")
	}
	ch.Wait()
}

func TestChannelReportsPeerHangup(t *testing.T) {
	c := newCodec(t)
	left, right := net.Pipe()

	ch := NewChannel(peer.New(), left, c, testOptions())
	sink := newCollector()
	ch.Start(sink.deliver, sink.onClose)

	right.Close()

	select {
	case cause := <-sink.closed:
		if !errors.Is(cause, io.EOF) {
			t.Fatalf("cause = %v, want EOF", cause)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hang-up not reported")
	}
	ch.Wait()
	if err := ch.Send(mustEncode(t, c, &protocol.Heartbeat{})); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Send after hang-up: %v", err)
	}
}

func TestChannelLocalCloseHasNilCause(t *testing.T) {
	c := newCodec(t)
	left, right := net.Pipe()
	defer right.Close()

	ch := NewChannel(peer.New(), left, c, testOptions())
	sink := newCollector()
	ch.Start(sink.deliver, sink.onClose)

	ch.Close()
	select {
	case cause := <-sink.closed:
		if cause != nil {
			t.Fatalf("cause = %v, want nil", cause)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close not reported")
	}
	ch.Wait()
}

func TestChannelOverWebSocket(t *testing.T) {
	c := newCodec(t)

	serverSink := newCollector()
	accepted := make(chan *Channel, 1)
	srv := httptest.NewServer(WebSocketHandler(func(s Stream) {
		ch := NewChannel(peer.New(), s, c, testOptions())
		ch.Start(serverSink.deliver, serverSink.onClose)
		accepted <- ch
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)

	stream, err := DialWebSocket(t.Context(), host, port)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	clientSink := newCollector()
	client := NewChannel(peer.Nil, stream, c, testOptions())
	client.Start(clientSink.deliver, clientSink.onClose)

	var server *Channel
	select {
	case server = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no WebSocket channel accepted")
	}

	for i := 0; i < 20; i++ {
		if err := client.Send(mustEncode(t, c, &protocol.Debug{Message: fmt.Sprint("up", i)})); err != nil {
			t.Fatal(err)
		}
	}
	if err := server.Send(mustEncode(t, c, &protocol.Debug{Message: "down"})); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "upstream packets", func() bool { return len(serverSink.snapshot()) == 20 })
	waitFor(t, "downstream packet", func() bool { return len(clientSink.snapshot()) == 1 })

	for i, m := range messages(t, serverSink.snapshot()) {
		if m != fmt.Sprint("up", i) {
			t.Fatalf("upstream %d = %q", i, m)
		}
	}
	if got := clientSink.snapshot()[0]; !got.Sender().IsNil() {
		t.Errorf("client-side sender = %s, want Nil", got.Sender())
	}

	client.Close()
	client.Wait()
	select {
	case <-serverSink.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("server channel not closed after client left")
	}
	server.Wait()
}
