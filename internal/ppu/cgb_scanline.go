package ppu

// BankVRAMReader extends VRAMReader with CGB's banked-VRAM access: tile
// maps and attribute maps always live in bank 0 and bank 1 respectively,
// while tile pattern data is selected per-tile by the attribute's bank
// bit.
type BankVRAMReader interface {
	VRAMReader
	ReadBank(bank int, addr uint16) byte
}

// RenderBGScanlineCGB renders one background scanline honoring CGB
// tile attributes (palette, bank, x/y flip, BG-to-OBJ priority) read
// from attrBase, which mirrors mapBase's layout one tile map bank over.
func RenderBGScanlineCGB(mem BankVRAMReader, mapBase, attrBase uint16, tileData8000 bool, scx, scy, ly byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	for x := 0; x < 160; x++ {
		bgX := uint16(byte(x) + scx)
		bgY := uint16(ly + scy)
		mapX := (bgX >> 3) & 31
		mapY := (bgY >> 3) & 31
		fineX := byte(bgX & 7)
		fineY := byte(bgY & 7)

		mapAddr := mapBase + mapY*32 + mapX
		tileNum := mem.ReadBank(0, mapAddr)
		attr := mem.ReadBank(1, attrBase+(mapAddr-mapBase))

		ci[x], pal[x], pri[x] = fetchCGBPixel(mem, tileNum, attr, tileData8000, fineX, fineY)
	}
	return
}

// RenderWindowScanlineCGB renders the window layer starting at screen
// column wxStart, using winLine as the vertical line within the
// window (independent of SCX/SCY).
func RenderWindowScanlineCGB(mem BankVRAMReader, mapBase, attrBase uint16, tileData8000 bool, wxStart int, winLine byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	for x := wxStart; x < 160; x++ {
		col := uint16(x - wxStart)
		mapX := (col >> 3) & 31
		fineX := byte(col & 7)

		mapAddr := mapBase + mapY*32 + mapX
		tileNum := mem.ReadBank(0, mapAddr)
		attr := mem.ReadBank(1, attrBase+(mapAddr-mapBase))

		ci[x], pal[x], pri[x] = fetchCGBPixel(mem, tileNum, attr, tileData8000, fineX, fineY)
	}
	return
}

func fetchCGBPixel(mem BankVRAMReader, tileNum, attr byte, tileData8000 bool, fineX, fineY byte) (byte, byte, bool) {
	bank := int((attr >> 4) & 1)
	pal := attr & 0x07
	xflip := attr&0x20 != 0
	yflip := attr&0x40 != 0
	priority := attr&0x80 != 0

	row := fineY
	if yflip {
		row = 7 - fineY
	}

	var base uint16
	if tileData8000 {
		base = 0x8000 + uint16(tileNum)*16
	} else {
		base = 0x9000 + uint16(int8(tileNum))*16
	}
	addr := base + uint16(row)*2
	lo := mem.ReadBank(bank, addr)
	hi := mem.ReadBank(bank, addr+1)

	bit := 7 - fineX
	if xflip {
		bit = fineX
	}
	ciVal := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
	return ciVal, pal, priority
}
