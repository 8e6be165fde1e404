package clock

import "testing"

// recordingSink accumulates every cycle count it's ticked with, so
// tests can assert the exact per-call fan-out split rather than just
// a running total.
type recordingSink struct {
	calls []int
	total int
}

func (s *recordingSink) Tick(cycles int) {
	s.calls = append(s.calls, cycles)
	s.total += cycles
}

func TestClock_SingleSpeed_PassesCyclesThroughUnscaled(t *testing.T) {
	ppu, tm, ser, apu := &recordingSink{}, &recordingSink{}, &recordingSink{}, &recordingSink{}
	c := New(ppu, tm, ser, apu)

	c.Increment(4)
	c.Increment(8)

	for name, s := range map[string]*recordingSink{"ppu": ppu, "timer": tm, "serial": ser, "apu": apu} {
		if s.total != 12 {
			t.Fatalf("%s total = %d, want 12", name, s.total)
		}
	}
}

func TestClock_DoubleSpeed_PPUAndAPUHalved(t *testing.T) {
	ppu, tm, ser, apu := &recordingSink{}, &recordingSink{}, &recordingSink{}, &recordingSink{}
	c := New(ppu, tm, ser, apu)

	c.WriteKEY1(0x01) // request a speed switch
	c.NotifyStop()    // flips to double speed, queues the switch stall
	c.extraCpuCycles = 0 // this test isolates the fan-out ratio, not the stall

	c.Increment(4)
	c.Increment(4)

	if !c.IsDoubleSpeed() {
		t.Fatalf("expected double speed after NotifyStop")
	}
	if tm.total != 8 || ser.total != 8 {
		t.Fatalf("timer/serial should stay at full rate: timer=%d serial=%d, want 8/8", tm.total, ser.total)
	}
	if ppu.total != 4 {
		t.Fatalf("ppu.total = %d, want 4 (half of 8 CPU cycles)", ppu.total)
	}
	if apu.total != 4 {
		t.Fatalf("apu.total = %d, want 4 (half of 8 CPU cycles)", apu.total)
	}
}

func TestClock_DoubleSpeed_OddCycleResidueCarriesOver(t *testing.T) {
	ppu, tm, ser, apu := &recordingSink{}, &recordingSink{}, &recordingSink{}, &recordingSink{}
	c := New(ppu, tm, ser, apu)
	c.WriteKEY1(0x01)
	c.NotifyStop()
	c.extraCpuCycles = 0

	// Three separate odd-sized increments: the 1-bit residue
	// accumulator must carry the leftover half-cycle across calls
	// rather than rounding it away each time.
	c.Increment(1)
	c.Increment(1)
	c.Increment(1)

	if ppu.total != 1 {
		t.Fatalf("ppu.total = %d, want 1 (3 cycles halved with carry = 1)", ppu.total)
	}
}

func TestClock_ReadKEY1_ReflectsSpeedAndPendingBits(t *testing.T) {
	c := New(nil, nil, nil, nil)
	if got := c.ReadKEY1(); got != 0x7E {
		t.Fatalf("ReadKEY1() = %02X, want 7E (no speed, no pending)", got)
	}
	c.WriteKEY1(0x01)
	if got := c.ReadKEY1(); got != 0x7F {
		t.Fatalf("ReadKEY1() = %02X, want 7F (pending bit set)", got)
	}
	c.NotifyStop()
	if got := c.ReadKEY1(); got != 0xFE {
		t.Fatalf("ReadKEY1() = %02X, want FE (double speed, pending cleared)", got)
	}
}

func TestClock_NotifyStop_NoPendingSwitch_IsANoop(t *testing.T) {
	c := New(nil, nil, nil, nil)
	c.NotifyStop()
	if c.IsDoubleSpeed() {
		t.Fatalf("speed flipped without a pending switch request")
	}
	if c.extraCpuCycles != 0 {
		t.Fatalf("stall queued without a pending switch request")
	}
}

func TestClock_PauseCpu_StallDrainsWithinIncrement(t *testing.T) {
	bus := &recordingSink{}
	c := New(nil, nil, nil, nil)
	c.SetBus(bus)

	c.PauseCpu(16) // simulates a DMA-triggered stall queued mid-instruction
	c.Increment(4)

	if bus.total != 20 {
		t.Fatalf("bus.total = %d, want 20 (4 CPU cycles + 16 queued stall)", bus.total)
	}
}

func TestClock_Reset_ClearsSpeedAndResidue(t *testing.T) {
	c := New(nil, nil, nil, nil)
	c.WriteKEY1(0x01)
	c.NotifyStop()
	c.Increment(1) // leaves a residue bit pending

	c.Reset()

	if c.IsDoubleSpeed() {
		t.Fatalf("Reset did not clear double-speed mode")
	}
	if c.ReadKEY1() != 0x7E {
		t.Fatalf("ReadKEY1() after Reset = %02X, want 7E", c.ReadKEY1())
	}
	if c.CpuCycles() != 0 {
		t.Fatalf("CpuCycles() after Reset = %d, want 0", c.CpuCycles())
	}
}
