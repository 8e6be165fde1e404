package ppu

import "sort"

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

const (
	ifVBlank = 0
	ifSTAT   = 1
)

// LineRegs is a snapshot of the registers that affect rendering,
// captured at the moment a scanline enters mode 3 (Draw), so the
// renderer sees the exact SCX/SCY/WX/WY/window-line-counter/LCDC
// values that were live for that line even if the CPU rewrites them
// later in the same line.
type LineRegs struct {
	SCX, SCY byte
	WX, WY   byte
	LCDC     byte
	BGP      byte
	OBP0     byte
	OBP1     byte
	WinLine  byte
	WinActive bool
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, CGB palette RAM, OAM
// DMA-adjacent timing hooks, and line-by-line framebuffer rendering.
type PPU struct {
	// memory
	vram [2][0x2000]byte // bank 0/1, 0x8000–0x9FFF; bank1 is CGB-only
	oam  [0xA0]byte      // 0xFE00–0xFE9F

	cgbMode bool
	vbk     byte // FF4F bit0 selects vram bank

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	// CGB palette RAM: 8 palettes x 4 colors x 2 bytes (BGR555).
	bgPalRAM  [64]byte
	objPalRAM [64]byte
	bcps      byte // FF68
	ocps      byte // FF6A

	dot int // dots within current line [0..455]

	winLineCounter int // increments once per visible line the window was active on
	statLineHigh   bool

	lineRegs  [154]LineRegs
	frameSkip bool

	front, back []byte // RGBA 160x144x4
	frameIndex  uint64

	compatShade *[4][3]byte // non-nil overrides dmgShade for DMG-on-CGB compat coloring

	req InterruptRequester
}

func New(req InterruptRequester) *PPU {
	p := &PPU{req: req}
	p.front = make([]byte, 160*144*4)
	p.back = make([]byte, 160*144*4)
	return p
}

// SetCGBMode enables CGB VRAM banking and palette RAM.
func (p *PPU) SetCGBMode(on bool) { p.cgbMode = on }

// Framebuffer returns the front (presented) RGBA buffer.
func (p *PPU) Framebuffer() []byte { return p.front }

// FrameIndex returns the number of frames swapped to front so far.
func (p *PPU) FrameIndex() uint64 { return p.frameIndex }

func (p *PPU) vramBank() int {
	if p.cgbMode {
		return int(p.vbk & 1)
	}
	return 0
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[p.vramBank()][addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	case addr == 0xFF4F:
		return 0xFE | (p.vbk & 1)
	case addr == 0xFF68:
		return p.bcps
	case addr == 0xFF69:
		return p.bgPalRAM[p.bcps&0x3F]
	case addr == 0xFF6A:
		return p.ocps
	case addr == 0xFF6B:
		return p.objPalRAM[p.ocps&0x3F]
	default:
		return 0xFF
	}
}

// ReadBank reads VRAM from an explicit bank (0 or 1), ignoring the
// current VBK selection and mode-3 lockout; used by the CGB scanline
// renderer, which must read tile data from the attribute-selected
// bank regardless of which bank the CPU currently has mapped in.
func (p *PPU) ReadBank(bank int, addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	if bank < 0 || bank > 1 {
		bank = 0
	}
	return p.vram[bank][addr-0x8000]
}

// Read implements VRAMReader using the currently CPU-selected bank.
func (p *PPU) Read(addr uint16) byte { return p.ReadBank(p.vramBank(), addr) }

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[p.vramBank()][addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			p.ly = 0
			p.dot = 0
			p.winLineCounter = 0
			p.frameSkip = true // one-frame blanking on re-enable
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
		p.recomputeSTATLine()
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	case addr == 0xFF4F:
		p.vbk = value & 1
	case addr == 0xFF68:
		p.bcps = value & 0xBF
	case addr == 0xFF69:
		p.bgPalRAM[p.bcps&0x3F] = value
		if p.bcps&0x80 != 0 {
			p.bcps = 0x80 | ((p.bcps + 1) & 0x3F)
		}
	case addr == 0xFF6A:
		p.ocps = value & 0xBF
	case addr == 0xFF6B:
		p.objPalRAM[p.ocps&0x3F] = value
		if p.ocps&0x80 != 0 {
			p.ocps = 0x80 | ((p.ocps + 1) & 0x3F)
		}
	}
}

// WriteOAMByte is used by the OAM-DMA transfer, which writes directly
// to OAM bypassing the mode-2/3 CPU lockout (the DMA unit has its own
// bus master rights).
func (p *PPU) WriteOAMByte(i int, v byte) {
	if i >= 0 && i < len(p.oam) {
		p.oam[i] = v
	}
}

// LineRegs returns the register snapshot captured when scanline ly
// entered mode 3, or a zero value if that line has not been drawn yet
// this frame.
func (p *PPU) LineRegs(ly int) LineRegs {
	if ly < 0 || ly >= len(p.lineRegs) {
		return LineRegs{}
	}
	return p.lineRegs[ly]
}

// Tick advances PPU state by the given number of dots (PPU clocks: 4
// per CPU cycle single speed, 2 double speed).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 {
			continue
		}
		prevDot := p.dot
		p.dot++
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		p.setMode(mode)

		if mode == 3 && prevDot < 80 && int(p.ly) < 144 {
			p.captureLineRegs()
		}
		if mode == 0 && prevDot == 80+172-1 && int(p.ly) < 144 {
			p.renderLine(int(p.ly))
		}

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				if p.req != nil {
					p.req(ifVBlank)
				}
				p.swapFrame()
			} else if p.ly > 153 {
				p.ly = 0
				p.winLineCounter = 0
			}
			p.updateLYC()
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) captureLineRegs() {
	lr := LineRegs{SCX: p.scx, SCY: p.scy, WX: p.wx, WY: p.wy, LCDC: p.lcdc, BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1}
	windowOn := p.lcdc&0x20 != 0
	wxVisible := p.wx <= 166
	wyVisible := int(p.ly) >= int(p.wy)
	if windowOn && wxVisible && wyVisible {
		lr.WinActive = true
		lr.WinLine = byte(p.winLineCounter)
		p.winLineCounter++
	}
	p.lineRegs[p.ly] = lr
}

func (p *PPU) swapFrame() {
	p.frameIndex++
	if !p.frameSkip {
		p.front, p.back = p.back, p.front
	}
	p.frameSkip = false
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	if prev != mode {
		p.recomputeSTATLine()
	}
}

// recomputeSTATLine ORs the four STAT interrupt sources and raises
// the STAT interrupt only on the rising edge of the combined line,
// per spec.md §4.5.
func (p *PPU) recomputeSTATLine() {
	mode := p.stat & 0x03
	line := (p.stat&(1<<2) != 0 && p.stat&(1<<6) != 0) ||
		(mode == 2 && p.stat&(1<<5) != 0) ||
		(mode == 1 && p.stat&(1<<4) != 0) ||
		(mode == 0 && p.stat&(1<<3) != 0)
	if line && !p.statLineHigh {
		if p.req != nil {
			p.req(ifSTAT)
		}
	}
	p.statLineHigh = line
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
	} else {
		p.stat &^= 1 << 2
	}
	p.recomputeSTATLine()
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// dmgShade maps a 2-bit palette-translated color index to a DMG gray shade.
var dmgShade = [4][3]byte{
	{0xE0, 0xF8, 0xD0},
	{0x88, 0xC0, 0x70},
	{0x34, 0x68, 0x56},
	{0x08, 0x18, 0x20},
}

func paletteShade(pal byte, ci byte) byte { return (pal >> (ci * 2)) & 0x03 }

func cgbColor555(ram [64]byte, palIdx, ci byte) (byte, byte, byte) {
	off := int(palIdx)*8 + int(ci)*2
	lo, hi := ram[off], ram[off+1]
	v := uint16(lo) | uint16(hi)<<8
	r := byte(v & 0x1F)
	g := byte((v >> 5) & 0x1F)
	b := byte((v >> 10) & 0x1F)
	return r << 3, g << 3, b << 3
}

// renderLine composes BG+window+sprites for scanline ly into the back
// framebuffer, using the register snapshot captured at that line's
// mode-3 entry.
func (p *PPU) renderLine(ly int) {
	lr := p.lineRegs[ly]
	if lr.LCDC&0x80 == 0 {
		return
	}

	var bgci [160]byte
	var bgPal [160]byte
	var bgPri [160]bool

	tileData8000 := lr.LCDC&0x10 != 0
	bgMapBase := uint16(0x9800)
	if lr.LCDC&0x08 != 0 {
		bgMapBase = 0x9C00
	}
	if lr.LCDC&0x01 != 0 || p.cgbMode {
		if p.cgbMode {
			// CGB attribute bytes share the same map address as the tile
			// index, just in VRAM bank 1.
			bgci, bgPal, bgPri = RenderBGScanlineCGB(p, bgMapBase, bgMapBase, tileData8000, lr.SCX, lr.SCY, byte(ly))
		} else {
			bgci = RenderBGScanlineUsingFetcher(p, bgMapBase, tileData8000, lr.SCX, lr.SCY, byte(ly))
		}
	}

	if lr.WinActive && lr.LCDC&0x20 != 0 {
		winMapBase := uint16(0x9800)
		if lr.LCDC&0x40 != 0 {
			winMapBase = 0x9C00
		}
		wxStart := int(lr.WX) - 7
		if p.cgbMode {
			wci, wpal, wpri := RenderWindowScanlineCGB(p, winMapBase, winMapBase, tileData8000, wxStart, lr.WinLine)
			for x := wxStart; x < 160; x++ {
				if x < 0 {
					continue
				}
				bgci[x], bgPal[x], bgPri[x] = wci[x], wpal[x], wpri[x]
			}
		} else {
			wci := RenderWindowScanlineUsingFetcher(p, winMapBase, tileData8000, wxStart, lr.WinLine)
			for x := wxStart; x < 160; x++ {
				if x < 0 {
					continue
				}
				bgci[x] = wci[x]
			}
		}
	}

	var spriteCI [160]byte
	if lr.LCDC&0x02 != 0 {
		sprites := p.gatherSprites(ly, lr.LCDC&0x04 != 0)
		spriteCI = ComposeSpriteLine(p, sprites, byte(ly), bgci, p.cgbMode)
	}

	for x := 0; x < 160; x++ {
		var r, g, b byte
		switch {
		case spriteCI[x] != 0:
			r, g, b = p.shadeFor(spriteCI[x], lr.OBP0)
		case p.cgbMode:
			r, g, b = cgbColor555(p.bgPalRAM, bgPal[x], bgci[x])
		default:
			r, g, b = p.shadeFor(bgci[x], lr.BGP)
		}
		off := (ly*160 + x) * 4
		p.back[off+0] = r
		p.back[off+1] = g
		p.back[off+2] = b
		p.back[off+3] = 0xFF
	}
}

func (p *PPU) shadeFor(ci byte, pal byte) (byte, byte, byte) {
	shade := paletteShade(pal, ci)
	table := dmgShade
	if p.compatShade != nil {
		table = *p.compatShade
	}
	c := table[shade]
	return c[0], c[1], c[2]
}

// SetCompatShadeTable overrides the monochrome DMG shade table with a
// colorized one, used to replay a GBC boot ROM's per-game color
// compatibility palettes when running a DMG cartridge on CGB hardware.
// Pass nil to restore plain grayscale shading.
func (p *PPU) SetCompatShadeTable(t *[4][3]byte) { p.compatShade = t }

type oamSprite struct {
	y, x, tile, attr byte
	index            int
}

func (p *PPU) gatherSprites(ly int, tall bool) []Sprite {
	height := 8
	if tall {
		height = 16
	}
	var found []oamSprite
	for i := 0; i < 40; i++ {
		base := i * 4
		y := int(p.oam[base+0]) - 16
		if ly < y || ly >= y+height {
			continue
		}
		found = append(found, oamSprite{y: p.oam[base+0], x: p.oam[base+1], tile: p.oam[base+2], attr: p.oam[base+3], index: i})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].index < found[j].index })
	if len(found) > 10 {
		found = found[:10]
	}
	out := make([]Sprite, 0, len(found))
	for _, s := range found {
		tile := s.tile
		y := int(s.y) - 16
		if tall {
			row := ly - y // 0..15, pre-flip
			if s.attr&0x40 != 0 {
				row = height - 1 - row
			}
			tile &^= 0x01
			if row >= 8 {
				tile |= 0x01
				row -= 8
			}
			// Re-express as an 8px-tall sprite at the row-adjusted origin so
			// ComposeSpriteLine's single-tile yflip math selects this half
			// directly: it recomputes row = ly-Y (then flips if attr bit6),
			// so Y must be chosen such that that recomputation lands on row.
			if s.attr&0x40 != 0 {
				y = ly - (7 - row)
			} else {
				y = ly - row
			}
		}
		out = append(out, Sprite{X: int(s.x) - 8, Y: y, Tile: tile, Attr: s.attr, OAMIndex: s.index})
	}
	return out
}

// --- Save/Load state ---

type ppuState struct {
	VRAM0, VRAM1                             [0x2000]byte
	OAM                                      [0xA0]byte
	LCDC, STAT, SCY, SCX, LY, LYC            byte
	BGP, OBP0, OBP1, WY, WX                  byte
	Dot, WinLineCounter                      int
	VBK, BCPS, OCPS                          byte
	BGPalRAM, OBJPalRAM                      [64]byte
}

func (p *PPU) SaveState() []byte {
	s := ppuState{
		VRAM0: p.vram[0], VRAM1: p.vram[1], OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		Dot: p.dot, WinLineCounter: p.winLineCounter,
		VBK: p.vbk, BCPS: p.bcps, OCPS: p.ocps,
		BGPalRAM: p.bgPalRAM, OBJPalRAM: p.objPalRAM,
	}
	return encodeGob(s)
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if !decodeGob(data, &s) {
		return
	}
	p.vram[0], p.vram[1], p.oam = s.VRAM0, s.VRAM1, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.dot, p.winLineCounter = s.Dot, s.WinLineCounter
	p.vbk, p.bcps, p.ocps = s.VBK, s.BCPS, s.OCPS
	p.bgPalRAM, p.objPalRAM = s.BGPalRAM, s.OBJPalRAM
}
