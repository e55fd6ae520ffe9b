package protocol

import (
	"github.com/1ureka/fluxnet/internal/buffer"
	"github.com/1ureka/fluxnet/internal/util"
)

// Heartbeat is sent by a remote once per second. Its only effect is
// refreshing the sender channel's liveness on the server.
type Heartbeat struct {
	Header
}

func (p *Heartbeat) Read(*buffer.ByteBuf) error { return nil }
func (p *Heartbeat) Write(*buffer.ByteBuf)      {}

func (p *Heartbeat) Perform(ctx Context) {
	ctx.HoldAlive(p.Sender())
}

// Debug carries a single string that the receiver logs.
type Debug struct {
	Header
	Message string
}

func (p *Debug) Read(buf *buffer.ByteBuf) error {
	var err error
	p.Message, err = buf.ReadString()
	return err
}

func (p *Debug) Write(buf *buffer.ByteBuf) {
	buf.WriteString(p.Message)
}

func (p *Debug) Perform(Context) {
	if p.Sender().IsNil() {
		util.LogInfo("[debug] %s", p.Message)
		return
	}
	util.LogInfo("[debug] [%08x] %s", p.Sender().Short(), p.Message)
}

// RegisterBuiltins registers Heartbeat and Debug, in that order, so they
// receive protocol IDs 0 and 1. Call it first on both ends.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(func() Packet { return &Heartbeat{} })
	r.MustRegister(func() Packet { return &Debug{} })
}
