// main.go - riversim: headless/batch SoC simulator runner

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	sim "github.com/river-soc/riversim"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "riversim",
		Short: "River SoC simulator — headless batch runner",
	}

	var romPath string
	var numHarts int
	var maxTicks uint64
	var scenarioPath string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Elaborate the SoC, load a boot ROM, and run to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := sim.DefaultSimConfig()
			cfg.NumHarts = numHarts

			s, err := sim.NewSimulator(cfg)
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

			if maxTicks > 0 {
				s.StopAtTick(maxTicks)
			}

			if scenarioPath != "" {
				src, err := os.ReadFile(scenarioPath)
				if err != nil {
					return fmt.Errorf("reading scenario: %w", err)
				}
				r := sim.NewScenarioRunner(s)
				defer r.Close()
				if err := r.RunScript(string(src)); err != nil {
					for _, line := range r.Log() {
						fmt.Println(line)
					}
					return err
				}
				for _, line := range r.Log() {
					fmt.Println(line)
				}
				return nil
			}

			if err := s.Run(context.Background(), nil); err != nil {
				if se, ok := sim.AsSimError(err); ok {
					return fmt.Errorf("simulation halted: %s", se.Error())
				}
				return err
			}
			fmt.Printf("stopped at tick %d\n", s.Now())
			return nil
		},
	}
	runCmd.Flags().StringVar(&romPath, "rom", "", "Boot ROM image to preload")
	runCmd.Flags().IntVar(&numHarts, "harts", 1, "Number of harts to elaborate")
	runCmd.Flags().Uint64Var(&maxTicks, "max-ticks", 0, "Stop after this many ticks (0 = run until a hart halts)")
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Lua scenario script to run instead of a free-running simulation")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Elaborate the SoC and print its reset-state register file",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sim.NewSimulator(sim.DefaultSimConfig())
			if err != nil {
				return err
			}
			h := s.Hart(0)
			fmt.Printf("pc=0x%08x\n", h.Cpu.PC())
			return nil
		},
	}

	var steps int
	stepCmd := &cobra.Command{
		Use:   "step",
		Short: "Elaborate the SoC and single-step hart 0 a fixed number of ticks",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sim.NewSimulator(sim.DefaultSimConfig())
			if err != nil {
				return err
			}
			for i := 0; i < steps; i++ {
				if err := s.Tick(); err != nil {
					return err
				}
				fmt.Printf("tick %d: pc=0x%08x\n", s.Now(), s.Hart(0).Cpu.PC())
			}
			return nil
		},
	}
	stepCmd.Flags().IntVar(&steps, "n", 1, "Number of ticks to step")

	rootCmd.AddCommand(runCmd, resetCmd, stepCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
