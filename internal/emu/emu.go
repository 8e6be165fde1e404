// Package emu wires Bus, Clock, CPU, and the cartridge into the
// System/Machine facade the UI and CLI front-ends drive.
package emu

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alderlake-dev/gbcore/internal/apu"
	"github.com/alderlake-dev/gbcore/internal/bus"
	"github.com/alderlake-dev/gbcore/internal/cart"
	"github.com/alderlake-dev/gbcore/internal/clock"
	"github.com/alderlake-dev/gbcore/internal/cpu"
	"github.com/alderlake-dev/gbcore/internal/joypad"
)

// Buttons mirrors the eight-key DMG/CGB input state for one frame.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

// sampleRate is the APU's fixed internal generation rate; host audio
// backends resample from PullStereo's output as needed.
const sampleRate = 48000

// cgbCompatSets holds per-palette-ID 4-shade color tables used to
// colorize a DMG-only cartridge when run with CGB colors enabled,
// mirroring the GBC boot ROM's built-in compatibility palettes.
// Indices match compat_tables.go's compatTitleExact/compatTitleContains IDs.
var cgbCompatSetNames = []string{"Green", "Sepia", "Blue", "Red", "Pastel"}

var cgbCompatSets = [][4][3]byte{
	{{0xE0, 0xF8, 0xD0}, {0x88, 0xC0, 0x70}, {0x34, 0x68, 0x56}, {0x08, 0x18, 0x20}}, // Green
	{{0xF8, 0xE8, 0xC8}, {0xD8, 0xA8, 0x68}, {0x98, 0x68, 0x38}, {0x48, 0x28, 0x18}}, // Sepia
	{{0xF8, 0xF8, 0xF8}, {0xA0, 0xB8, 0xF8}, {0x50, 0x68, 0xD0}, {0x10, 0x10, 0x50}}, // Blue
	{{0xF8, 0xE0, 0xE0}, {0xF0, 0x98, 0x98}, {0xC0, 0x48, 0x48}, {0x50, 0x10, 0x10}}, // Red
	{{0xF8, 0xF0, 0xF8}, {0xE0, 0xB8, 0xE0}, {0xB0, 0x78, 0xB0}, {0x50, 0x30, 0x50}}, // Pastel
}

// Machine is the System facade: it owns the Bus/Clock/CPU/APU, drives
// frame-at-a-time emulation, and exposes the save/load and input
// surface the UI and headless CLI front ends need.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU
	clk *clock.Clock
	apu *apu.APU

	romPath string
	header  *cart.Header
	bootROM []byte

	cgbHardware     bool // this Machine models CGB hardware
	wantCGBColors   bool // user toggle: colorize DMG carts on CGB hardware
	useCGBBG        bool // CGB color rendering path is currently active
	compatPaletteID int
}

// New constructs a Machine with no cartridge loaded.
func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg, cgbHardware: true}
	b, err := bus.New(make([]byte, 0x8000))
	if err != nil {
		// A zero-filled 32 KiB placeholder always parses as a valid
		// ROM-only header; a failure here means the placeholder size
		// itself has drifted out of sync with header validation.
		panic(err)
	}
	m.bus = b
	m.wireCore()
	m.ResetNoBoot()
	return m
}

func (m *Machine) wireCore() {
	m.apu = apu.New(sampleRate)
	m.clk = clock.New(m.bus.PPU(), m.bus.Timer(), m.bus.Serial(), m.apu)
	m.clk.SetBus(m.bus)
	m.bus.SetClock(m.clk)
	m.bus.SetAPU(m.apu)
	m.bus.SetBreakSink(breakPanic)
	m.cpu = cpu.New(m.bus)
	m.cpu.SetClock(m.clk)
	m.cpu.SetBreakSink(breakPanic)
}

// breakPanic is the default break sink: the core never catches its
// own break, so an unmapped bus access or an unallocated opcode
// propagates up as a panic the host front-end can recover and report.
func breakPanic(kind, detail string) {
	panic(fmt.Sprintf("%s: %s", kind, detail))
}

// LoadCartridge replaces the active cartridge with rom, wiring a fresh
// Bus (so banking/RTC/VRAM state always starts clean) and re-attaching
// the boot ROM if boot is non-empty.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	b, err := bus.New(rom)
	if err != nil {
		return err
	}
	m.bus = b
	m.wireCore()
	m.header = h
	if len(boot) >= 0x100 {
		m.bootROM = boot
		m.bus.SetBootROM(boot)
	} else if len(m.bootROM) >= 0x100 {
		m.bus.SetBootROM(m.bootROM)
	}
	m.applyCGBMode()
	if len(m.bootROM) >= 0x100 {
		m.ResetWithBoot()
	} else {
		m.ResetPostBoot()
	}
	return nil
}

// LoadROMFromFile reads path and loads it as the active cartridge,
// recording path for save-RAM/save-state sibling file naming.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(data, m.bootROM); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// SetBootROM installs a DMG/CGB boot ROM image for subsequent loads
// and resets.
func (m *Machine) SetBootROM(data []byte) {
	m.bootROM = data
	m.bus.SetBootROM(data)
}

func (m *Machine) ROMPath() string { return m.romPath }

func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// applyCGBMode decides whether the Bus/PPU run in CGB register mode:
// true for a CGB-flagged cartridge, or for any cartridge once the user
// has asked for CGB colors.
func (m *Machine) applyCGBMode() {
	cgbCart := m.header != nil && (m.header.CGBFlag == 0x80 || m.header.CGBFlag == 0xC0)
	on := cgbCart || m.wantCGBColors
	m.bus.SetCGBMode(on)
	m.bus.PPU().SetCGBMode(on)
	m.useCGBBG = on
	m.applyCompatShade()
}

// IsCGBCompat reports whether the loaded cartridge is DMG-only (so the
// compatibility color palette picker applies) while running on
// modeled CGB hardware.
func (m *Machine) IsCGBCompat() bool {
	if m.header == nil {
		return false
	}
	return m.cgbHardware && m.header.CGBFlag != 0x80 && m.header.CGBFlag != 0xC0
}

func (m *Machine) WantCGBColors() bool { return m.wantCGBColors }

func (m *Machine) UseCGBBG() bool { return m.useCGBBG }

// SetUseCGBBG toggles CGB-palette background rendering directly,
// without touching the CGB-mode register semantics (used by the menu
// to preview color before a full reset).
func (m *Machine) SetUseCGBBG(on bool) {
	m.wantCGBColors = on
	m.applyCGBMode()
}

// ResetCGBPostBoot resets into CGB post-boot state, optionally forcing
// CGB colors on for a DMG-only cartridge.
func (m *Machine) ResetCGBPostBoot(wantColors bool) {
	m.wantCGBColors = wantColors
	m.applyCGBMode()
	m.ResetPostBoot()
}

func (m *Machine) applyCompatShade() {
	if !m.IsCGBCompat() || !m.wantCGBColors {
		m.bus.PPU().SetCompatShadeTable(nil)
		return
	}
	id := m.compatPaletteID
	if id < 0 || id >= len(cgbCompatSets) {
		id = 0
	}
	table := cgbCompatSets[id]
	m.bus.PPU().SetCompatShadeTable(&table)
}

func (m *Machine) CurrentCompatPalette() int { return m.compatPaletteID }

func (m *Machine) SetCompatPalette(id int) {
	if id < 0 || id >= len(cgbCompatSets) {
		return
	}
	m.compatPaletteID = id
	m.applyCompatShade()
}

func (m *Machine) CycleCompatPalette(delta int) {
	n := len(cgbCompatSets)
	m.compatPaletteID = ((m.compatPaletteID+delta)%n + n) % n
	m.applyCompatShade()
}

func (m *Machine) CompatPaletteName(id int) string {
	if id < 0 || id >= len(cgbCompatSetNames) {
		return ""
	}
	return cgbCompatSetNames[id]
}

// AutoCompatPalette selects a default palette from the cartridge header
// (see compat_tables.go): a per-title match first, else one derived from
// the header checksum for Nintendo-licensed titles, else palette 0. The
// current selection is left untouched only when no cartridge is loaded.
func (m *Machine) AutoCompatPalette() {
	if id, ok := autoCompatPaletteFromHeader(m.header); ok {
		m.SetCompatPalette(id)
	}
}

// ResetNoBoot puts the CPU/bus in typical DMG/CGB post-boot register
// state without running a boot ROM image.
func (m *Machine) ResetNoBoot() {
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
	m.clk.Reset()
	b := m.bus
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
}

// ResetPostBoot is an alias for ResetNoBoot: the post-boot register
// state is identical whether or not a cartridge happens to be loaded.
func (m *Machine) ResetPostBoot() { m.ResetNoBoot() }

// ResetWithBoot starts execution at 0x0000 so the mapped boot ROM
// runs and initializes hardware itself.
func (m *Machine) ResetWithBoot() {
	m.clk.Reset()
	m.cpu.SetPC(0x0000)
	m.cpu.SP = 0xFFFE
	m.cpu.IME = false
}

// SetButtons applies one frame's worth of input state to the joypad.
func (m *Machine) SetButtons(b Buttons) {
	pad := m.bus.Joypad()
	pad.SetButton(joypad.Right, b.Right)
	pad.SetButton(joypad.Left, b.Left)
	pad.SetButton(joypad.Up, b.Up)
	pad.SetButton(joypad.Down, b.Down)
	pad.SetButton(joypad.A, b.A)
	pad.SetButton(joypad.B, b.B)
	pad.SetButton(joypad.Select, b.Select)
	pad.SetButton(joypad.Start, b.Start)
}

// SetSerialWriter attaches w as the serial port's transfer sink (used
// by headless test-ROM harnesses to capture diagnostic output).
func (m *Machine) SetSerialWriter(w io.Writer) { m.bus.SetSerialWriter(w) }

// SetUseFetcherBG records the UI's background-renderer preference in
// the Machine's Config. Nothing reads it back: the PPU always renders
// the DMG background and window through the fetcher/FIFO scanline path.
func (m *Machine) SetUseFetcherBG(on bool) { m.cfg.UseFetcherBG = on }

// StepFrame advances emulation by exactly one PPU frame and leaves
// the result in Framebuffer().
func (m *Machine) StepFrame() {
	start := m.bus.PPU().FrameIndex()
	for m.bus.PPU().FrameIndex() == start {
		m.cpu.Step()
	}
}

// StepFrameNoRender advances one frame's worth of CPU cycles without
// caring whether a frame boundary lands exactly on it; used by
// headless test-ROM harnesses that only care about serial output.
func (m *Machine) StepFrameNoRender() {
	const cyclesPerFrame = 70224
	budget := cyclesPerFrame
	for budget > 0 {
		budget -= m.cpu.Step()
	}
}

// Framebuffer returns the most recently completed frame as RGBA
// 160x144x4 bytes.
func (m *Machine) Framebuffer() []byte { return m.bus.PPU().Framebuffer() }

// LoadBattery restores external-RAM (and RTC, for MBC3) state saved by
// SaveBattery.
func (m *Machine) LoadBattery(data []byte) bool {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns the cartridge's external RAM (and RTC state, for
// MBC3), or ok=false if the cartridge has none.
func (m *Machine) SaveBattery() ([]byte, bool) {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// machineState is the top-level save-state envelope: CPU registers,
// clock speed state, plus the Bus/PPU/cart/APU sub-state blobs each
// owner already knows how to (de)serialize.
type machineState struct {
	A, F             byte
	B, C, D, E, H, L byte
	SP, PC           uint16
	IME              bool
	CpuCycles        uint64
	DoubleSpeed      bool
}

func (m *Machine) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(machineState{
		A: m.cpu.A, F: m.cpu.F, B: m.cpu.B, C: m.cpu.C, D: m.cpu.D, E: m.cpu.E, H: m.cpu.H, L: m.cpu.L,
		SP: m.cpu.SP, PC: m.cpu.PC, IME: m.cpu.IME,
		CpuCycles: m.clk.CpuCycles(), DoubleSpeed: m.clk.IsDoubleSpeed(),
	})
	_ = enc.Encode(m.bus.SaveState())
	_ = enc.Encode(m.apu.SaveState())
	return buf.Bytes()
}

func (m *Machine) LoadState(data []byte) bool {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s machineState
	if err := dec.Decode(&s); err != nil {
		return false
	}
	m.cpu.A, m.cpu.F = s.A, s.F
	m.cpu.B, m.cpu.C, m.cpu.D, m.cpu.E, m.cpu.H, m.cpu.L = s.B, s.C, s.D, s.E, s.H, s.L
	m.cpu.SP, m.cpu.PC, m.cpu.IME = s.SP, s.PC, s.IME

	var busBlob, apuBlob []byte
	_ = dec.Decode(&busBlob)
	_ = dec.Decode(&apuBlob)
	if len(busBlob) > 0 {
		m.bus.LoadState(busBlob)
	}
	if len(apuBlob) > 0 {
		m.apu.LoadState(apuBlob)
	}
	return true
}

func (m *Machine) SaveStateToFile(path string) error {
	return os.WriteFile(path, m.SaveState(), 0o644)
}

func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !m.LoadState(data) {
		return errInvalidState
	}
	return nil
}

var errInvalidState = errors.New("invalid save state")

// --- APU pull-through for the UI's audio backend ---

func (m *Machine) APUPullStereo(max int) []int16 { return m.apu.PullStereo(max) }
func (m *Machine) APUBufferedStereo() int        { return m.apu.StereoAvailable() }

// APUCapBufferedStereo drops the oldest buffered samples beyond
// ceiling frames worth of stereo pairs, bounding audio latency after a
// pause (menu open, slow frame, etc).
func (m *Machine) APUCapBufferedStereo(ceiling int) {
	for m.apu.StereoAvailable() > ceiling {
		if len(m.apu.PullStereo(m.apu.StereoAvailable()-ceiling)) == 0 {
			break
		}
	}
}

// APUClearAudioLatency discards all buffered audio, used when resuming
// from the menu to avoid replaying a stale backlog.
func (m *Machine) APUClearAudioLatency() {
	for m.apu.StereoAvailable() > 0 {
		if len(m.apu.PullStereo(4096)) == 0 {
			break
		}
	}
}

