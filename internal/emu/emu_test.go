package emu

import "testing"

// buildROMOnly constructs a minimal 32KiB ROM-only cartridge with a
// valid header checksum, good enough to load through LoadCartridge
// without exercising any particular MBC.
func buildROMOnly(title string) []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x0134:0x0144], []byte(title))
	rom[0x0143] = 0x00 // CGB flag: DMG-only
	rom[0x0147] = 0x00 // cart type: ROM-only
	rom[0x0148] = 0x00 // 32 KiB
	rom[0x0149] = 0x00 // no RAM
	rom[0x014B] = 0x33
	rom[0x0144], rom[0x0145] = '0', '1'
	var hsum byte
	for addr := 0x0134; addr <= 0x014C; addr++ {
		hsum = hsum - rom[addr] - 1
	}
	rom[0x014D] = hsum
	return rom
}

func TestMachine_LoadCartridge_SetsROMTitle(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(buildROMOnly("HELLOWORLD"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if got := m.ROMTitle(); got != "HELLOWORLD" {
		t.Fatalf("ROMTitle() = %q, want HELLOWORLD", got)
	}
}

func TestMachine_StepFrame_ProducesAFullFramebuffer(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(buildROMOnly("TEST"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.StepFrame()
	fb := m.Framebuffer()
	if len(fb) != 160*144*4 {
		t.Fatalf("Framebuffer() len = %d, want %d", len(fb), 160*144*4)
	}
}

func TestMachine_DMGOnlyCartridge_IsCGBCompatCandidate(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(buildROMOnly("TEST"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if !m.IsCGBCompat() {
		t.Fatalf("IsCGBCompat() = false for a DMG-only cartridge on CGB hardware")
	}
}

func TestMachine_SetCompatPalette_RoundTripsAndClamps(t *testing.T) {
	m := New(Config{})
	_ = m.LoadCartridge(buildROMOnly("TEST"), nil)

	m.SetCompatPalette(2)
	if got := m.CurrentCompatPalette(); got != 2 {
		t.Fatalf("CurrentCompatPalette() = %d, want 2", got)
	}
	m.SetCompatPalette(-1) // out of range: ignored
	if got := m.CurrentCompatPalette(); got != 2 {
		t.Fatalf("CurrentCompatPalette() changed on out-of-range Set: got %d", got)
	}
	m.SetCompatPalette(len(cgbCompatSets) + 5) // out of range: ignored
	if got := m.CurrentCompatPalette(); got != 2 {
		t.Fatalf("CurrentCompatPalette() changed on out-of-range Set: got %d", got)
	}
}

func TestMachine_CycleCompatPalette_WrapsBothDirections(t *testing.T) {
	m := New(Config{})
	_ = m.LoadCartridge(buildROMOnly("TEST"), nil)

	m.SetCompatPalette(0)
	m.CycleCompatPalette(-1)
	if got := m.CurrentCompatPalette(); got != len(cgbCompatSets)-1 {
		t.Fatalf("CycleCompatPalette(-1) from 0 = %d, want %d", got, len(cgbCompatSets)-1)
	}
	m.CycleCompatPalette(1)
	if got := m.CurrentCompatPalette(); got != 0 {
		t.Fatalf("CycleCompatPalette(1) = %d, want 0", got)
	}
}

func TestMachine_SaveStateLoadState_RoundTripsCPURegisters(t *testing.T) {
	m := New(Config{})
	_ = m.LoadCartridge(buildROMOnly("TEST"), nil)
	m.StepFrame()

	wantPC, wantSP, wantA := m.cpu.PC, m.cpu.SP, m.cpu.A
	blob := m.SaveState()

	m.StepFrame() // diverge state before reloading
	if !m.LoadState(blob) {
		t.Fatalf("LoadState reported failure on a freshly saved blob")
	}
	if m.cpu.PC != wantPC || m.cpu.SP != wantSP || m.cpu.A != wantA {
		t.Fatalf("registers after LoadState = PC=%04X SP=%04X A=%02X, want PC=%04X SP=%04X A=%02X",
			m.cpu.PC, m.cpu.SP, m.cpu.A, wantPC, wantSP, wantA)
	}
}

func TestMachine_LoadCartridge_MalformedROMSize_ReturnsError(t *testing.T) {
	m := New(Config{})
	rom := buildROMOnly("BAD")
	rom[0x0148] = 0x01 // header claims 64 KiB, but rom is still 32 KiB
	if err := m.LoadCartridge(rom, nil); err == nil {
		t.Fatalf("LoadCartridge did not reject a ROM/header size mismatch")
	}
}

func TestMachine_LoadCartridge_MalformedRAMSizeCode_ReturnsError(t *testing.T) {
	m := New(Config{})
	rom := buildROMOnly("BAD")
	rom[0x0149] = 0x01 // 0x01 is not a valid RAM size code
	if err := m.LoadCartridge(rom, nil); err == nil {
		t.Fatalf("LoadCartridge did not reject an unknown RAM size code")
	}
}

func TestMachine_SaveBattery_NoBattery_ReportsFalse(t *testing.T) {
	m := New(Config{})
	_ = m.LoadCartridge(buildROMOnly("TEST"), nil) // ROM-only: no BatteryBacked support
	if _, ok := m.SaveBattery(); ok {
		t.Fatalf("SaveBattery() ok=true for a ROM-only cartridge")
	}
}
