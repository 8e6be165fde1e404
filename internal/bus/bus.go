// Package bus implements the CPU-visible 64 KiB address space: a
// range-routed dispatcher over cartridge, WRAM, HRAM, PPU (VRAM/OAM),
// timer, serial, joypad, and the interrupt register pair, plus the
// OAM-DMA bus lock.
package bus

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/alderlake-dev/gbcore/internal/apu"
	"github.com/alderlake-dev/gbcore/internal/cart"
	"github.com/alderlake-dev/gbcore/internal/clock"
	"github.com/alderlake-dev/gbcore/internal/interrupt"
	"github.com/alderlake-dev/gbcore/internal/joypad"
	"github.com/alderlake-dev/gbcore/internal/ppu"
	"github.com/alderlake-dev/gbcore/internal/serial"
	"github.com/alderlake-dev/gbcore/internal/timer"
)

// BreakFunc is the host's non-fatal-to-the-process error sink: the bus
// calls it on unmapped access and then returns a no-op value, per
// spec.md §4.1/§7 ("the core never catches its own break").
type BreakFunc func(kind, detail string)

// Bus wires CPU-visible address space to its collaborators.
type Bus struct {
	cart cart.Cartridge

	wram    [8][0x1000]byte // CGB-banked WRAM; bank 0 fixed at 0xC000, bank 1-7 switchable at 0xD000
	wramBank byte           // FF70 (CGB), 0 reads as bank 1

	hram [0x7F]byte

	ppu *ppu.PPU

	interrupt *interrupt.Controller
	timer     *timer.Timer
	serial    *serial.Port
	joypad    *joypad.Pad
	clk       *clock.Clock // wired by System for KEY1 (0xFF4D) access; nil in bus-only tests
	apu       *apu.APU     // wired by System; nil in bus-only tests leaves sound registers at 0xFF

	// OAM DMA: 160 bytes over 640 PPU-dot-equivalent units (4 per byte)
	dma        byte // FF46
	dmaActive  bool
	dmaSrc     uint16
	dmaIndex   int
	dmaSubDot  int

	locked bool // bus lock during OAM DMA; HRAM stays live

	bootROM     []byte
	bootEnabled bool

	cgbMode bool

	breakSink BreakFunc
	debugTimer bool
}

// New constructs a Bus from a raw ROM image, rejecting a malformed
// cartridge header (bad ROM/RAM size) synchronously rather than
// silently falling back to a safe default.
func New(rom []byte) (*Bus, error) {
	c, err := cart.NewCartridge(rom)
	if err != nil {
		return nil, err
	}
	return NewWithCartridge(c), nil
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c, wramBank: 1}
	b.interrupt = interrupt.New()
	b.ppu = ppu.New(func(bit int) { b.interrupt.Raise(interrupt.Kind(bit)) })
	b.timer = timer.New(func() { b.interrupt.Raise(interrupt.Timer) })
	b.serial = serial.New(func() { b.interrupt.Raise(interrupt.Serial) })
	b.joypad = joypad.New(func() { b.interrupt.Raise(interrupt.Joypad) })
	if os.Getenv("GB_DEBUG_TIMER") != "" {
		b.debugTimer = true
	}
	return b
}

// Accessors exposing the Bus's collaborators to the System facade for
// Clock wiring and test introspection.
func (b *Bus) PPU() *ppu.PPU                     { return b.ppu }
func (b *Bus) Cart() cart.Cartridge              { return b.cart }
func (b *Bus) Interrupt() *interrupt.Controller  { return b.interrupt }
func (b *Bus) Timer() *timer.Timer               { return b.timer }
func (b *Bus) Serial() *serial.Port              { return b.serial }

// SetClock wires the Clock so reads/writes of KEY1 (0xFF4D) reach its
// double-speed state. Unwired (nil) in tests that exercise Bus alone.
func (b *Bus) SetClock(c *clock.Clock) { b.clk = c }

// SetAPU wires the sound chip's register file at 0xFF10-0xFF3F.
func (b *Bus) SetAPU(a *apu.APU) { b.apu = a }
func (b *Bus) Joypad() *joypad.Pad               { return b.joypad }

// SetCGBMode enables WRAM banking (FF70) and forwards CGB mode to the PPU.
func (b *Bus) SetCGBMode(on bool) {
	b.cgbMode = on
	b.ppu.SetCGBMode(on)
}

// SetBreakSink installs the host's non-fatal error callback.
func (b *Bus) SetBreakSink(f BreakFunc) { b.breakSink = f }

func (b *Bus) breakUnmapped(addr uint16) {
	if b.breakSink != nil {
		b.breakSink("unmapped-access", fmt.Sprintf("bus: unmapped address %04X", addr))
	}
}

func (b *Bus) wramLowBank() int { return 0 }

func (b *Bus) wramHighBank() int {
	n := int(b.wramBank & 0x07)
	if n == 0 {
		n = 1
	}
	return n
}

func (b *Bus) Read(addr uint16) byte {
	if b.locked && !(addr >= 0xFF80 && addr <= 0xFFFE) {
		return 0xFF
	}
	return b.readRaw(addr)
}

// readRaw reads without consulting the bus lock; used internally by
// the DMA stepper, which retains bus-master rights while locked.
func (b *Bus) readRaw(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xCFFF:
		return b.wram[b.wramLowBank()][addr-0xC000]
	case addr >= 0xD000 && addr <= 0xDFFF:
		return b.wram[b.wramHighBank()][addr-0xD000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.readRaw(addr - 0x2000)
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return b.ppu.CPURead(addr)
	case addr == 0xFF00:
		return b.joypad.ReadFF00()
	case addr == 0xFF01:
		return b.serial.ReadFF01()
	case addr == 0xFF02:
		return b.serial.ReadFF02()
	case addr == 0xFF04:
		return b.timer.ReadFF04()
	case addr == 0xFF05:
		return b.timer.ReadFF05()
	case addr == 0xFF06:
		return b.timer.ReadFF06()
	case addr == 0xFF07:
		return b.timer.ReadFF07()
	case addr == 0xFF0F:
		return b.interrupt.ReadIF()
	case addr >= 0xFF10 && addr <= 0xFF3F:
		if b.apu == nil {
			return 0xFF
		}
		return b.apu.CPURead(addr)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B, addr == 0xFF4F,
		addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF4D:
		if b.clk == nil {
			return 0xFF
		}
		return b.clk.ReadKEY1()
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF70:
		if !b.cgbMode {
			return 0xFF
		}
		return 0xF8 | (b.wramBank & 0x07)
	case addr == 0xFFFF:
		return b.interrupt.ReadIE()
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	}
	b.breakUnmapped(addr)
	return 0xFF
}

// Read16 reads a little-endian 16-bit value at a, a+1 (wraps at 16 bits).
func (b *Bus) Read16(addr uint16) uint16 {
	lo := b.Read(addr)
	hi := b.Read(addr + 1)
	return uint16(lo) | uint16(hi)<<8
}

func (b *Bus) Write(addr uint16, value byte) {
	if b.locked && !(addr >= 0xFF80 && addr <= 0xFFFE) {
		return
	}
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
		return
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
		return
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
		return
	case addr >= 0xC000 && addr <= 0xCFFF:
		b.wram[b.wramLowBank()][addr-0xC000] = value
		return
	case addr >= 0xD000 && addr <= 0xDFFF:
		b.wram[b.wramHighBank()][addr-0xD000] = value
		return
	case addr >= 0xE000 && addr <= 0xFDFF:
		b.Write(addr-0x2000, value)
		return
	case addr >= 0xFE00 && addr <= 0xFE9F:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF00:
		b.joypad.WriteFF00(value)
		return
	case addr == 0xFF01:
		b.serial.WriteFF01(value)
		return
	case addr == 0xFF02:
		b.serial.WriteFF02(value)
		return
	case addr == 0xFF04:
		b.timer.WriteFF04(value)
		return
	case addr == 0xFF05:
		b.timer.WriteFF05(value)
		return
	case addr == 0xFF06:
		b.timer.WriteFF06(value)
		return
	case addr == 0xFF07:
		b.timer.WriteFF07(value)
		return
	case addr == 0xFF0F:
		b.interrupt.WriteIF(value)
		return
	case addr >= 0xFF10 && addr <= 0xFF3F:
		if b.apu != nil {
			b.apu.CPUWrite(addr, value)
		}
		return
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B, addr == 0xFF4F,
		addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
		b.dmaSubDot = 0
		b.locked = true
		return
	case addr == 0xFF4D:
		if b.clk != nil {
			b.clk.WriteKEY1(value)
		}
		return
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
		return
	case addr == 0xFF70:
		if b.cgbMode {
			b.wramBank = value & 0x07
		}
		return
	case addr == 0xFFFF:
		b.interrupt.WriteIE(value)
		return
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
		return
	}
	b.breakUnmapped(addr)
}

// SetSerialWriter installs a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.serial.SetSink(w) }

// SetJoypadState sets which buttons are currently pressed (bit set = pressed),
// using the Joyp* constants for backward-compatible callers.
func (b *Bus) SetJoypadState(mask byte) {
	for i := 0; i < 8; i++ {
		b.joypad.SetButton(joypad.Button(i), mask&(1<<uint(i)) != 0)
	}
}

// Joypad button bitmasks, ordered to match joypad.Button's iota sequence.
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// SetBootROM loads a DMG boot ROM to be mapped at 0x0000-0x00FF until disabled via 0xFF50 write.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// Tick advances the OAM-DMA transfer by the given number of dot-
// equivalent units (4 per byte, 640 total for the 160-byte transfer,
// per spec.md §4.5); the bus stays locked until the transfer
// completes and OAM is written atomically.
func (b *Bus) Tick(cycles int) {
	if !b.dmaActive {
		return
	}
	for i := 0; i < cycles && b.dmaActive; i++ {
		b.dmaSubDot++
		if b.dmaSubDot < 4 {
			continue
		}
		b.dmaSubDot = 0
		v := b.readRaw(b.dmaSrc + uint16(b.dmaIndex))
		b.ppu.WriteOAMByte(b.dmaIndex, v)
		b.dmaIndex++
		if b.dmaIndex >= 0xA0 {
			b.dmaActive = false
			b.locked = false
		}
	}
}

// --- Save/Load state ---
type busState struct {
	WRAM      [8][0x1000]byte
	WRAMBank  byte
	HRAM      [0x7F]byte
	DMA        byte
	DMAActive  bool
	DMASrc     uint16
	DMAIdx     int
	DMASubDot  int
	Locked     bool
	BootEn    bool
	CGBMode   bool
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := busState{
		WRAM: b.wram, WRAMBank: b.wramBank, HRAM: b.hram,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAIdx: b.dmaIndex, DMASubDot: b.dmaSubDot,
		Locked: b.locked, BootEn: b.bootEnabled, CGBMode: b.cgbMode,
	}
	_ = enc.Encode(s)
	if b.ppu != nil {
		_ = enc.Encode(b.ppu.SaveState())
	} else {
		_ = enc.Encode([]byte(nil))
	}
	if bb, ok := b.cart.(interface{ SaveState() []byte }); ok {
		_ = enc.Encode(bb.SaveState())
	} else {
		_ = enc.Encode([]byte(nil))
	}
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram, b.wramBank, b.hram = s.WRAM, s.WRAMBank, s.HRAM
	b.dma, b.dmaActive, b.dmaSrc, b.dmaIndex, b.dmaSubDot = s.DMA, s.DMAActive, s.DMASrc, s.DMAIdx, s.DMASubDot
	b.locked, b.bootEnabled, b.cgbMode = s.Locked, s.BootEn, s.CGBMode

	var ps []byte
	if err := dec.Decode(&ps); err == nil && b.ppu != nil {
		b.ppu.LoadState(ps)
	}
	var cs []byte
	if err := dec.Decode(&cs); err == nil {
		if bb, ok := b.cart.(interface{ LoadState([]byte) }); ok {
			bb.LoadState(cs)
		}
	}
}
