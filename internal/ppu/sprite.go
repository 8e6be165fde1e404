package ppu

import "sort"

// Sprite is a screen-space-normalized OAM entry: X/Y are already offset
// by the hardware's (-8, -16) OBJ origin, so X/Y==0 means the sprite's
// top-left pixel sits at screen column/row 0.
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte // bit7 priority, bit6 yflip, bit5 xflip, bit4 DMG palette, bit3 CGB bank, bits2-0 CGB palette
	OAMIndex int
}

// ComposeSpriteLine renders up to ten sprites (the caller is expected to
// have already applied the hardware's 10-per-line cap) onto a single
// scanline, honoring BG priority, per-sprite x/y flip, and the draw
// order: on DMG lower X wins with OAM index breaking ties; on CGB lower
// OAM index wins.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, cgbMode bool) [160]byte {
	var out [160]byte

	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	if cgbMode {
		// CGB draws strictly in OAM order (lowest index on top).
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OAMIndex < ordered[j].OAMIndex })
	} else {
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].X != ordered[j].X {
				return ordered[i].X < ordered[j].X
			}
			return ordered[i].OAMIndex < ordered[j].OAMIndex
		})
	}

	var drawn [160]bool
	for _, s := range ordered {
		row := int(ly) - s.Y
		if row < 0 || row > 7 {
			continue
		}
		if s.Attr&0x40 != 0 { // yflip
			row = 7 - row
		}
		base := uint16(0x8000) + uint16(s.Tile)*16 + uint16(row)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)
		for col := 0; col < 8; col++ {
			x := s.X + col
			if x < 0 || x >= 160 {
				continue
			}
			if drawn[x] {
				continue
			}
			bit := 7 - col
			if s.Attr&0x20 != 0 { // xflip
				bit = col
			}
			ci := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if ci == 0 {
				continue // transparent
			}
			if s.Attr&0x80 != 0 && bgci[x] != 0 {
				drawn[x] = true // priority-behind-BG still claims the slot (can't be overdrawn by a lower sprite)
				continue
			}
			out[x] = ci
			drawn[x] = true
		}
	}
	return out
}
