// Command gbcore is the Cobra-based front end for the emulator: a
// "run" subcommand opens the ebiten window, "headless" drives frames
// without one for scripted test-ROM runs.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gbcore",
		Short: "Cycle-accurate Game Boy / Game Boy Color emulator",
	}
	root.AddCommand(newRunCmd(), newHeadlessCmd())
	return root
}

func mustReadOptional(path string) []byte {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	return b
}
