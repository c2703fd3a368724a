// main.go - riverdbg: interactive DMI debug host

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	sim "github.com/river-soc/riversim"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "riverdbg",
		Short: "River SoC debug host — interactive DMI session",
	}

	var romPath string
	var scriptPath string

	dmiCmd := &cobra.Command{
		Use:   "dmi",
		Short: "Open an interactive halt/resume/register session against hart 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sim.NewSimulator(sim.DefaultSimConfig())
			if err != nil {
				return fmt.Errorf("elaboration failed: %w", err)
			}
			if romPath != "" {
				image, err := os.ReadFile(romPath)
				if err != nil {
					return fmt.Errorf("reading ROM image: %w", err)
				}
				s.LoadBootImage(image)
			}

			if scriptPath != "" {
				return runScriptFile(s, scriptPath)
			}
			return runInteractive(s)
		},
	}
	dmiCmd.Flags().StringVar(&romPath, "rom", "", "Boot ROM image to preload")

	haltCmd := &cobra.Command{
		Use:   "halt",
		Short: "Elaborate, run to a tick count, then halt and print hart 0's PC",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sim.NewSimulator(sim.DefaultSimConfig())
			if err != nil {
				return err
			}
			ticks, _ := cmd.Flags().GetUint64("ticks")
			for i := uint64(0); i < ticks; i++ {
				if err := s.Tick(); err != nil {
					return err
				}
			}
			s.Hart(0).Dmi.Halt()
			fmt.Printf("halted at pc=0x%08x\n", s.Hart(0).Dmi.PC())
			return nil
		},
	}
	haltCmd.Flags().Uint64("ticks", 0, "Ticks to run before halting")

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Elaborate, halt immediately, then resume and report the new state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sim.NewSimulator(sim.DefaultSimConfig())
			if err != nil {
				return err
			}
			s.Hart(0).Dmi.Halt()
			s.Hart(0).Dmi.Resume()
			fmt.Printf("resumed, halted=%v\n", s.Hart(0).Dmi.Halted())
			return nil
		},
	}

	scriptCmd := &cobra.Command{
		Use:   "script [file.lua]",
		Short: "Run a Lua scenario script against a fresh simulator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sim.NewSimulator(sim.DefaultSimConfig())
			if err != nil {
				return err
			}
			return runScriptFile(s, args[0])
		},
	}

	rootCmd.AddCommand(dmiCmd, haltCmd, resumeCmd, scriptCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScriptFile(s *sim.Simulator, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading scenario: %w", err)
	}
	r := sim.NewScenarioRunner(s)
	defer r.Close()
	err = r.RunScript(string(src))
	for _, line := range r.Log() {
		fmt.Println(line)
	}
	return err
}

// runInteractive drives a line-oriented monitor over the raw terminal:
// a handful of short verbs instead of a full instruction-set
// disassembler.
func runInteractive(s *sim.Simulator) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	h := s.Hart(0)
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("riverdbg> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			fmt.Print("\r\nriverdbg> ")
			continue
		}
		switch fields[0] {
		case "halt":
			h.Dmi.Halt()
			fmt.Printf("\r\nhalted at pc=0x%08x", h.Dmi.PC())
		case "resume":
			h.Dmi.Resume()
			fmt.Print("\r\nresumed")
		case "step":
			n := 1
			if len(fields) > 1 {
				n, _ = strconv.Atoi(fields[1])
			}
			for i := 0; i < n; i++ {
				if err := s.Tick(); err != nil {
					fmt.Printf("\r\nerror: %v", err)
					break
				}
			}
			fmt.Printf("\r\ntick=%d pc=0x%08x", s.Now(), h.Cpu.PC())
		case "reg":
			if len(fields) < 2 {
				fmt.Print("\r\nusage: reg <n>")
				break
			}
			idx, _ := strconv.Atoi(fields[1])
			fmt.Printf("\r\nx%d=0x%016x", idx, h.Dmi.ReadGPR(uint32(idx)))
		case "quit", "exit":
			fmt.Print("\r\n")
			return nil
		default:
			fmt.Printf("\r\nunknown command: %s", fields[0])
		}
		fmt.Print("\r\nriverdbg> ")
	}
	fmt.Print("\r\n")
	return nil
}
