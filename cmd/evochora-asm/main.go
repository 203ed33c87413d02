// Command evochora-asm compiles evochora assembly sources into a world and
// either reports compile diagnostics or runs the resulting simulation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"evochora/internal/artifact"
	"evochora/internal/asm/layout"
	"evochora/internal/config"
	"evochora/internal/debugtui"
	"evochora/internal/isa"
	"evochora/internal/scheduler"
	"evochora/internal/world"
	"evochora/internal/xlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a terminal error to the process exit code: 1 for
// compile/runtime diagnostics, 2 for usage/configuration errors.
func exitCodeFor(err error) int {
	if _, ok := err.(usageError); ok {
		return 2
	}
	return 1
}

type usageError struct{ error }

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "evochora-asm",
		Short: "Assemble and run evochora programs",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newCompileCmd(&configPath))
	root.AddCommand(newRunCmd(&configPath))
	return root
}

func newCompileCmd(configPath *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "compile <source.s>",
		Short: "Compile a source file and report diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, log, err := bootstrap(*configPath)
			if err != nil {
				return usageError{err}
			}

			text, err := os.ReadFile(args[0])
			if err != nil {
				return usageError{fmt.Errorf("reading source: %w", err)}
			}

			art, err := layout.Assemble(filepath.Base(args[0]), layout.Source{File: args[0], Text: string(text)}, nil, props.WorldShape)
			if err != nil {
				log.Error().Err(err).Msg("compile failed")
				return err
			}
			log.Info().
				Str("build_id", art.BuildID.String()).
				Int("start_points", len(art.StartPoints)).
				Int("initial_objects", len(art.InitialObjects)).
				Msg("compile succeeded")

			if out != "" {
				if err := art.WriteYAML(out); err != nil {
					return usageError{err}
				}
				log.Info().Str("path", out).Msg("artifact written")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the linked artifact to this path")
	return cmd
}

func newRunCmd(configPath *string) *cobra.Command {
	var ticks uint64
	var interactive bool
	var fromArtifact string
	cmd := &cobra.Command{
		Use:   "run [source.s]",
		Short: "Compile a source file (or load a linked artifact) and run it to completion or interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, log, err := bootstrap(*configPath)
			if err != nil {
				return usageError{err}
			}

			var art *artifact.ProgramArtifact
			switch {
			case fromArtifact != "":
				art, err = artifact.ReadYAML(fromArtifact)
				if err != nil {
					return usageError{err}
				}
			case len(args) == 1:
				text, rerr := os.ReadFile(args[0])
				if rerr != nil {
					return usageError{fmt.Errorf("reading source: %w", rerr)}
				}
				art, err = layout.Assemble(filepath.Base(args[0]), layout.Source{File: args[0], Text: string(text)}, nil, props.WorldShape)
				if err != nil {
					return err
				}
			default:
				return usageError{fmt.Errorf("run requires a source file or --from-artifact")}
			}

			w := world.New(props.WorldShape)
			sched := scheduler.New(w, isa.Default, log)
			sched.SetCheckpointPauseTicks(props.CheckpointPauseTicks)
			for _, org := range art.Place(w, props.Limits()) {
				sched.Place(org)
			}

			if interactive {
				return debugtui.Debug(sched, isa.Default)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			sched.Start()
			if ticks > 0 {
				for i := uint64(0); i < ticks && sched.IsRunning(); i++ {
					sched.Step()
				}
				return nil
			}
			return sched.Run(ctx)
		},
	}
	cmd.Flags().Uint64Var(&ticks, "ticks", 0, "run exactly this many ticks, then exit (0 = run until shutdown)")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "open the step debugger instead of running unattended")
	cmd.Flags().StringVar(&fromArtifact, "from-artifact", "", "load a previously linked artifact instead of compiling source")
	return cmd
}

func bootstrap(configPath string) (config.EnvironmentProperties, zerolog.Logger, error) {
	props, err := config.Load(configPath)
	if err != nil {
		return config.EnvironmentProperties{}, zerolog.Logger{}, err
	}
	log := xlog.New(xlog.Options{Level: props.LogLevel, Pretty: true, Component: "evochora-asm"})
	return props, log, nil
}
