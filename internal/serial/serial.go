// Package serial models the byte-level hardware access and debug log sink
// described in spec.md's "Serial/port I/O primitives" component. Real
// AxonOS talks to COM1 via inb/outb; this rewrite collects the bytes in
// an in-memory buffer that Snapshot reads back.
package serial

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Port is the software stand-in for a UART port register set. Only the
// subset the kernel actually uses is modeled: a byte-oriented transmit
// sink with the obvious implicit "always ready" status (real COM1 PIO
// would poll the line status register; the simulated bus never blocks).
type Port struct {
	mu  sync.Mutex
	out *bytes.Buffer
}

// NewPort creates a Port backed by an unbounded in-memory buffer; the
// bytes are not mirrored anywhere else.
func NewPort() *Port {
	return &Port{out: &bytes.Buffer{}}
}

// WriteByte transmits a single byte out the port, as the original's
// outb(COM1, c) does.
func (p *Port) WriteByte(c byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.WriteByte(c)
}

// Write implements io.Writer so the port can back a zap core directly.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

// Snapshot returns everything written to the port so far. Intended for
// tests driving the debug log sink.
func (p *Port) Snapshot() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, p.out.Len())
	copy(out, p.out.Bytes())
	return out
}

// NewLogger builds the kernel-wide structured logger, writing to the
// given serial Port in JSON form — the debug log sink named in spec.md's
// component table. With a nil port the log lines go to a private
// buffer that nothing reads, i.e. they are discarded (useful for tests
// that don't care about the wire bytes).
func NewLogger(port *Port) *zap.SugaredLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "" // PIT ticks, not wall clock, are the kernel's notion of time
	encoder := zapcore.NewJSONEncoder(cfg)

	var sink zapcore.WriteSyncer
	if port != nil {
		sink = zapcore.AddSync(port)
	} else {
		sink = zapcore.AddSync(&bytes.Buffer{})
	}

	core := zapcore.NewCore(encoder, sink, zapcore.DebugLevel)
	return zap.New(core).Sugar()
}
