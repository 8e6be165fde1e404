package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/alderlake-dev/gbcore/internal/emu"
	"github.com/alderlake-dev/gbcore/internal/ui"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var bootROM, title string
	var scale int
	var trace, cgbColors, noSave bool

	cmd := &cobra.Command{
		Use:   "run [rom]",
		Short: "Open the emulator window for a ROM",
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
			if cgbColors {
				m.ResetCGBPostBoot(true)
				m.AutoCompatPalette()
			}

			savPath := savePathFor(romPath)
			if !noSave {
				if data, err := os.ReadFile(savPath); err == nil {
					if m.LoadBattery(data) {
						log.Printf("loaded save RAM: %s (%d bytes)", savPath, len(data))
					}
				}
			}

			app := ui.NewApp(ui.Config{Title: title, Scale: scale}, m)
			runErr := app.Run()

			if !noSave {
				if data, ok := m.SaveBattery(); ok {
					if err := os.WriteFile(savPath, data, 0o644); err == nil {
						log.Printf("wrote %s", savPath)
					}
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&bootROM, "bootrom", "", "optional DMG/CGB boot ROM")
	cmd.Flags().StringVar(&title, "title", "gbcore", "window title")
	cmd.Flags().IntVar(&scale, "scale", 3, "window scale")
	cmd.Flags().BoolVar(&trace, "trace", false, "log a CPU instruction trace")
	cmd.Flags().BoolVar(&cgbColors, "cgb-colors", false, "colorize a DMG-only cartridge using CGB compat palettes")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "don't load/persist battery RAM")
	return cmd
}

func savePathFor(romPath string) string {
	ext := filepath.Ext(romPath)
	return strings.TrimSuffix(romPath, ext) + ".sav"
}
