package cart

import (
	"encoding/binary"
	"time"
)

// MBC3 implements ROM/RAM banking plus the MBC3 real-time clock.
// Banking behavior:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (0x08-0x0C)
// - 6000-7FFF: latch clock on a 0->1 write
// - A000-BFFF: external RAM, or the latched RTC register selected above
// ROM: bank 0 fixed at 0000-3FFF; switchable 4000-7FFF uses bank (1..127)
//
// RTC registers: 08=seconds (0-59), 09=minutes (0-59), 0A=hours (0-23),
// 0B=day counter low 8 bits, 0C=day counter bit 8 (bit0) / halt (bit6) /
// day-carry (bit7).
//
// The running clock is not stored as a ticking field set: it is
// derived on demand from (now - reference), split into days/hours/
// minutes/seconds. A write to a running field rematerializes the
// split, replaces that one field, and re-derives reference so the new
// value holds going forward. Halting freezes the split at haltBase and
// stops folding in further wall-clock time.

// nowUnix is overridden by tests to make RTC advancement deterministic.
var nowUnix = func() int64 { return time.Now().Unix() }

type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	bankSelect byte // 4000-5FFF value: 0-3 selects RAM bank, 08-0C selects an RTC register

	latchState byte // last byte written to 6000-7FFF, for 0->1 edge detection

	reference int64 // wall-clock instant haltBase was last anchored at
	haltBase  int64 // total running-clock seconds as of reference
	rtcHalt   bool
	rtcCarry  bool // sticky day-counter overflow flag, read/write via 0x0C bit 7

	latchedSec, latchedMin, latchedHour byte
	latchedDay                          uint16
	latchedHalt, latchedCarry           bool
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	m.reference = nowUnix()
	return m
}

// elapsedSeconds returns the running clock's total seconds, folding in
// wall-clock time since reference unless halted.
func (m *MBC3) elapsedSeconds() int64 {
	if m.rtcHalt {
		return m.haltBase
	}
	total := m.haltBase + (nowUnix() - m.reference)
	if total < 0 {
		total = 0
	}
	return total
}

// liveFields splits the current running-clock total into day/hour/min/
// sec, latching the sticky overflow bit if the raw day count has
// wrapped past the 9-bit range.
func (m *MBC3) liveFields() (day uint16, hour, min, sec byte) {
	total := m.elapsedSeconds()
	rawDays := total / 86400
	if rawDays >= 512 {
		m.rtcCarry = true
	}
	rem := total % 86400
	return uint16(rawDays % 512), byte(rem / 3600), byte((rem % 3600) / 60), byte(rem % 60)
}

// setLive rematerializes the running clock so it reads as
// day/hour/min/sec from this instant forward.
func (m *MBC3) setLive(day uint16, hour, min, sec byte) {
	total := int64(day)*86400 + int64(hour)*3600 + int64(min)*60 + int64(sec)
	if m.rtcHalt {
		m.haltBase = total
		return
	}
	m.haltBase = 0
	m.reference = nowUnix() - total
}

func (m *MBC3) latchedRTCByte(reg byte) byte {
	switch reg {
	case 0x08:
		return m.latchedSec
	case 0x09:
		return m.latchedMin
	case 0x0A:
		return m.latchedHour
	case 0x0B:
		return byte(m.latchedDay & 0xFF)
	case 0x0C:
		v := byte((m.latchedDay >> 8) & 0x01)
		if m.latchedHalt {
			v |= 0x40
		}
		if m.latchedCarry {
			v |= 0x80
		}
		return v
	}
	return 0xFF
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.bankSelect >= 0x08 && m.bankSelect <= 0x0C {
			return m.latchedRTCByte(m.bankSelect)
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.bankSelect & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		if value <= 0x03 || (value >= 0x08 && value <= 0x0C) {
			m.bankSelect = value
		}
	case addr < 0x8000:
		if value == 0x01 && m.latchState == 0x00 {
			day, hour, min, sec := m.liveFields()
			m.latchedDay, m.latchedHour, m.latchedMin, m.latchedSec = day, hour, min, sec
			m.latchedHalt, m.latchedCarry = m.rtcHalt, m.rtcCarry
		}
		m.latchState = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.bankSelect >= 0x08 && m.bankSelect <= 0x0C {
			day, hour, min, sec := m.liveFields()
			switch m.bankSelect {
			case 0x08:
				m.setLive(day, hour, min, value%60)
			case 0x09:
				m.setLive(day, hour, value%60, sec)
			case 0x0A:
				m.setLive(day, value%24, min, sec)
			case 0x0B:
				m.setLive((day&^0xFF)|uint16(value), hour, min, sec)
			case 0x0C:
				newDay := (day &^ 0x100) | (uint16(value&0x01) << 8)
				m.rtcHalt = value&0x40 != 0
				m.rtcCarry = value&0x80 != 0
				m.setLive(newDay, hour, min, sec)
			}
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.bankSelect & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// SaveRAM returns RAM bytes followed by a little-endian 32-bit
// reference timestamp (seconds since Unix epoch) that reproduces the
// running clock's current total when reloaded fresh (not halted).
func (m *MBC3) SaveRAM() []byte {
	out := make([]byte, len(m.ram)+4)
	copy(out, m.ram)
	ref := nowUnix() - m.elapsedSeconds()
	binary.LittleEndian.PutUint32(out[len(m.ram):], uint32(ref))
	return out
}

// LoadRAM restores RAM and the RTC reference timestamp. A save whose
// length differs from len(ram)+4 is ignored and RAM is zeroed.
func (m *MBC3) LoadRAM(data []byte) {
	if len(data) != len(m.ram)+4 {
		for i := range m.ram {
			m.ram[i] = 0
		}
		return
	}
	copy(m.ram, data[:len(m.ram)])
	// The stamp is only 32 bits wide: recover the elapsed time as its
	// wrapped distance from now, so a stamp that wrapped on save still
	// reproduces the same running total.
	saved := binary.LittleEndian.Uint32(data[len(m.ram):])
	now := nowUnix()
	m.reference = now - int64(int32(uint32(now)-saved))
	m.haltBase = 0
	m.rtcHalt = false
	m.rtcCarry = false
	m.latchedDay, m.latchedHour, m.latchedMin, m.latchedSec = 0, 0, 0, 0
	m.latchedHalt, m.latchedCarry = false, false
}

// rtcSnapshot captures full RTC fidelity (including halt/carry and the
// latched register file) for mid-run save states. This is richer than
// the battery-save format SaveRAM/LoadRAM implement, which only
// persists RAM plus a reference timestamp.
type rtcSnapshot struct {
	Reference, HaltBase                int64
	Halt, Carry                        bool
	LatchedSec, LatchedMin, LatchedHour byte
	LatchedDay                          uint16
	LatchedHalt, LatchedCarry           bool
}

// bankingState captures the banking registers and full RTC fidelity
// not covered by SaveRAM, so a mid-game save-state also restores which
// ROM/RAM bank and RTC mode (halted, latched) was live.
type bankingState struct {
	RAMEnabled bool
	ROMBank    byte
	BankSelect byte
	LatchState byte
	RTC        rtcSnapshot
}

// SaveState satisfies cart.StateSaver: raw RAM bytes followed by the
// banking registers and full RTC state.
func (m *MBC3) SaveState() []byte {
	ram := make([]byte, len(m.ram))
	copy(ram, m.ram)
	trailer := encodeGob(bankingState{
		RAMEnabled: m.ramEnabled, ROMBank: m.romBank,
		BankSelect: m.bankSelect, LatchState: m.latchState,
		RTC: rtcSnapshot{
			Reference: m.reference, HaltBase: m.haltBase,
			Halt: m.rtcHalt, Carry: m.rtcCarry,
			LatchedSec: m.latchedSec, LatchedMin: m.latchedMin, LatchedHour: m.latchedHour,
			LatchedDay: m.latchedDay, LatchedHalt: m.latchedHalt, LatchedCarry: m.latchedCarry,
		},
	})
	return appendLenPrefixed(ram, trailer)
}

func (m *MBC3) LoadState(data []byte) {
	ram, trailer := splitLenPrefixed(data)
	if len(m.ram) > 0 && len(ram) > 0 {
		copy(m.ram, ram)
	}
	var s bankingState
	if decodeGob(trailer, &s) {
		m.ramEnabled, m.romBank = s.RAMEnabled, s.ROMBank
		m.bankSelect, m.latchState = s.BankSelect, s.LatchState
		m.reference, m.haltBase = s.RTC.Reference, s.RTC.HaltBase
		m.rtcHalt, m.rtcCarry = s.RTC.Halt, s.RTC.Carry
		m.latchedSec, m.latchedMin, m.latchedHour = s.RTC.LatchedSec, s.RTC.LatchedMin, s.RTC.LatchedHour
		m.latchedDay = s.RTC.LatchedDay
		m.latchedHalt, m.latchedCarry = s.RTC.LatchedHalt, s.RTC.LatchedCarry
	}
}
