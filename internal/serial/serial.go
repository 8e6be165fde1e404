// Package serial implements the link-cable port (SB/SC) as a cycle-sink
// and interrupt source. Transfers complete immediately (no link partner
// is modeled), matching how the teacher repo's bus.go handled it.
package serial

import "io"

// RequestInterrupt raises the serial interrupt.
type RequestInterrupt func()

// Port owns SB (0xFF01) and SC (0xFF02).
type Port struct {
	sb byte
	sc byte // bit7 transfer-start, bit0 clock source; upper bits besides 7/0 read as 1

	sink io.Writer // optional: receives each byte transmitted via SC bit7
	req  RequestInterrupt
}

func New(req RequestInterrupt) *Port { return &Port{req: req} }

// Reset clears SB/SC to their post-boot state.
func (p *Port) Reset() {
	p.sb = 0
	p.sc = 0
}

// SetSink installs (or clears, with nil) a writer that receives each
// byte transmitted over the serial port. Used by test-ROM harnesses
// (e.g. Blargg's serial-output conformance tests) to capture output.
func (p *Port) SetSink(w io.Writer) { p.sink = w }

func (p *Port) ReadFF01() byte { return p.sb }
func (p *Port) ReadFF02() byte { return 0x7E | (p.sc & 0x81) }

func (p *Port) WriteFF01(v byte) { p.sb = v }

func (p *Port) WriteFF02(v byte) {
	p.sc = v & 0x81
	if p.sc&0x80 == 0 {
		return
	}
	if p.sink != nil {
		_, _ = p.sink.Write([]byte{p.sb})
	}
	if p.req != nil {
		p.req()
	}
	p.sc &^= 0x80 // transfer completes within the same write, per the teacher's immediate-completion model
}

// Tick exists to satisfy the Clock's uniform cycle-sink fan-out; the
// serial port has no internal clock-driven state to advance because
// transfers complete synchronously on the SC write.
func (p *Port) Tick(int) {}
