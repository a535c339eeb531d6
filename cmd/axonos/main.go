// Command axonos is the boot harness: it stands in for the Multiboot2
// entry point a real bootloader would jump into, assembling the same
// inputs (an initrd archive, reported memory size, simulated disks)
// into a Config and running the kernel init order, per spec.md §2 and
// §6.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/axonos/axonos/internal/boot"
)

var (
	initrdPath string
	diskPaths  []string
	memUpperKB uint32
	memLowerKB uint32
	quiet      bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "axonos",
		Short: "Boot the AxonOS kernel runtime",
		Long: "axonos assembles a Multiboot2-style info blob from the given\n" +
			"initrd archive and reported memory sizes, runs the kernel init\n" +
			"order, and (unless -q) prints a one-shot boot report.",
		RunE: runBoot,
	}
	cmd.Flags().StringVar(&initrdPath, "initrd", "", "path to a cpio-newc initrd archive")
	cmd.Flags().StringArrayVar(&diskPaths, "disk", nil, "path to a raw disk image for a simulated IDE drive (repeatable)")
	cmd.Flags().Uint32Var(&memLowerKB, "mem-lower-kb", 640, "reported lower memory in KiB")
	cmd.Flags().Uint32Var(&memUpperKB, "mem-upper-kb", 128*1024, "reported upper memory in KiB")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress the boot report")
	return cmd
}

func runBoot(cmd *cobra.Command, args []string) error {
	var archive []byte
	if initrdPath != "" {
		b, err := os.ReadFile(initrdPath)
		if err != nil {
			return fmt.Errorf("reading initrd: %w", err)
		}
		archive = b
	}

	var disks [][]byte
	for _, p := range diskPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading disk image %s: %w", p, err)
		}
		disks = append(disks, b)
	}

	cfg := boot.Config{
		MultibootMagic: boot.Multiboot2Magic,
		Disks:          disks,
	}
	if archive != nil {
		cfg.InitrdArchive = archive
		cfg.MultibootInfo = boot.BuildMultibootInfo(archive, memLowerKB, memUpperKB)
	}

	k, err := boot.New(cfg)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Shutdown()

	if !quiet {
		printBootReport(cmd, k)
	}
	return nil
}

func printBootReport(cmd *cobra.Command, k *boot.Kernel) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "AxonOS boot complete.")
	fmt.Fprintf(out, "  PCI devices:  %d\n", len(k.PCIBus.Devices()))
	fmt.Fprintf(out, "  ATA disks:    %d\n", len(k.ATADevices))
	fmt.Fprintf(out, "  modules:      %v\n", k.Modules)
	if k.MemInfo != nil {
		fmt.Fprintf(out, "  memory:       lower=%dKB upper=%dKB\n", k.MemInfo.LowerKB, k.MemInfo.UpperKB)
	}
	fmt.Fprintln(out, "  console:")
	for y := 0; y < len(k.Console.Grid); y++ {
		line := make([]byte, 0, len(k.Console.Grid[y]))
		for _, cell := range k.Console.Grid[y] {
			if cell.Ch == 0 {
				line = append(line, ' ')
			} else {
				line = append(line, cell.Ch)
			}
		}
		fmt.Fprintf(out, "    %s\n", line)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
