package main

import (
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	"github.com/alderlake-dev/gbcore/internal/emu"
	"github.com/spf13/cobra"
)

func newHeadlessCmd() *cobra.Command {
	var bootROM, outPNG, expectCRC string
	var frames int
	var trace bool

	cmd := &cobra.Command{
		Use:   "headless [rom]",
		Short: "Run a ROM for a fixed number of frames with no window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			romPath := args[0]
			boot := mustReadOptional(bootROM)

			m := emu.New(emu.Config{Trace: trace})
			if len(boot) >= 0x100 {
				m.SetBootROM(boot)
			}
			if err := m.LoadROMFromFile(romPath); err != nil {
				return err
			}

			if frames <= 0 {
				frames = 1
			}
			start := time.Now()
			for i := 0; i < frames; i++ {
				m.StepFrame()
			}
			dur := time.Since(start)

			fb := m.Framebuffer()
			crc := crc32.ChecksumIEEE(fb)
			fps := float64(frames) / dur.Seconds()
			log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
				frames, dur.Truncate(time.Millisecond), fps, crc)

			if outPNG != "" {
				if err := writeFramePNG(fb, 160, 144, outPNG); err != nil {
					return fmt.Errorf("write PNG: %w", err)
				}
				log.Printf("wrote %s", outPNG)
			}

			if expectCRC != "" {
				want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
				got := fmt.Sprintf("%08x", crc)
				if got != want {
					return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bootROM, "bootrom", "", "optional DMG/CGB boot ROM")
	cmd.Flags().IntVar(&frames, "frames", 300, "frames to run")
	cmd.Flags().StringVar(&outPNG, "outpng", "", "write the final framebuffer to a PNG")
	cmd.Flags().StringVar(&expectCRC, "expect", "", "assert the final framebuffer's CRC32 (hex)")
	cmd.Flags().BoolVar(&trace, "trace", false, "log a CPU instruction trace")
	return cmd
}

func writeFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    append([]byte(nil), pix...),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
