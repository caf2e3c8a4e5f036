/*
par2verify is a native PAR2 recovery-set verifier and repairer: it parses
recovery-set packets, locates protected files' blocks on disk via a
sliding-window rolling-CRC32/MD5 scan, and recomputes missing blocks with
a GF(2^16) Reed-Solomon repair engine, all in-process rather than by
shelling out to par2cmdline.
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/par2verify/par2verify/internal/flags"
	"github.com/par2verify/par2verify/internal/logging"
	"github.com/par2verify/par2verify/internal/orchestrator"
	"github.com/par2verify/par2verify/internal/report"
	"github.com/par2verify/par2verify/internal/schema"
	"github.com/par2verify/par2verify/internal/util"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func wrapArgsError(validator cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validator(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", schema.ErrExitBadInvocation, err)
		}

		return nil
	}
}

// requireIndexFile validates that at least one path was given and that the
// first one names a recovery-set index file, not a bare volume file.
func requireIndexFile(cmd *cobra.Command, args []string) error {
	if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
		return err
	}

	if !util.IsPar2Base(args[0]) {
		return fmt.Errorf("%q is not a .par2 index file", args[0])
	}

	return nil
}

// newRootCmd returns the primary [cobra.Command] pointer for the program.
func newRootCmd(ctx context.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               rootUsage,
		Short:             rootHelpShort,
		Long:              rootHelpLong,
		Version:           schema.ProgramVersion,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", schema.ErrExitBadInvocation, err)
	})

	rootCmd.AddCommand(newVerifyCmd(ctx), newRepairCmd(ctx), newCheckConfigCmd())

	return rootCmd
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "check-config <file>",
		Short:   "Validates a par2verify YAML configuration file",
		Args:    wrapArgsError(cobra.ExactArgs(1)),
		Example: "\nValidate a par2verify YAML configuration file:\n  par2verify check-config /tmp/par2verify.yaml",
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := parseConfigFile(afero.NewOsFs(), args[0]); err != nil {
				fmt.Fprintln(os.Stdout, "Provided configuration file is invalid.")

				return fmt.Errorf("%w: %w", schema.ErrExitBadInvocation, err)
			}
			fmt.Fprintln(os.Stdout, "Provided configuration file is valid.")

			return nil
		},
	}
}

type runArgs struct {
	memoryLimit flags.ByteSize
	noiseLevel  flags.NoiseLevel
	wantJSON    bool
	configPath  string
}

func newVerifyCmd(ctx context.Context) *cobra.Command {
	var rargs runArgs

	_ = rargs.noiseLevel.Set("normal")
	_ = rargs.memoryLimit.Set("16MiB")

	fsys := afero.NewOsFs()

	verifyCmd := &cobra.Command{
		Use:     verifyUsage,
		Short:   verifyHelpShort,
		Long:    verifyHelpLong,
		Example: verifyHelpExample,
		Args:    wrapArgsError(requireIndexFile),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return mergeConfig(cmd, &rargs, args, func(cfg *configFile) *configFileRun { return cfg.Verify })
		},
		RunE: func(_ *cobra.Command, args []string) error {
			return runOperation(ctx, fsys, args, rargs, false)
		},
	}

	bindRunFlags(verifyCmd, &rargs)

	return verifyCmd
}

func newRepairCmd(ctx context.Context) *cobra.Command {
	var rargs runArgs

	_ = rargs.noiseLevel.Set("normal")
	_ = rargs.memoryLimit.Set("16MiB")

	fsys := afero.NewOsFs()

	repairCmd := &cobra.Command{
		Use:     repairUsage,
		Short:   repairHelpShort,
		Long:    repairHelpLong,
		Example: repairHelpExample,
		Args:    wrapArgsError(requireIndexFile),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return mergeConfig(cmd, &rargs, args, func(cfg *configFile) *configFileRun { return cfg.Repair })
		},
		RunE: func(_ *cobra.Command, args []string) error {
			return runOperation(ctx, fsys, args, rargs, true)
		},
	}

	bindRunFlags(repairCmd, &rargs)

	return repairCmd
}

func bindRunFlags(cmd *cobra.Command, rargs *runArgs) {
	cmd.Flags().BoolVar(&rargs.wantJSON, "json", false, "emit the final report as JSON on stdout instead of a log line")
	cmd.Flags().StringVarP(&rargs.configPath, "config", "c", "", "path to a par2verify YAML configuration file")
	cmd.Flags().VarP(&rargs.noiseLevel, "noise-level", "l", "log verbosity (silent|quiet|normal|noisy|debug)")
	cmd.Flags().VarP(&rargs.memoryLimit, "memory-limit", "m", "memory budget for repair chunk buffers (e.g. 16MiB)")
}

func mergeConfig(cmd *cobra.Command, rargs *runArgs, args []string, pick func(*configFile) *configFileRun) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("%w: failed to convert relative path to absolute: %w", schema.ErrExitBadInvocation, err)
	}

	args[0] = path

	if rargs.configPath == "" {
		return nil
	}

	cfg, err := parseConfigFile(afero.NewOsFs(), rargs.configPath)
	if err != nil {
		return fmt.Errorf("%w: failed to parse --config file: %w", schema.ErrExitBadInvocation, err)
	}

	section := pick(cfg)
	if section == nil {
		return nil
	}

	setFlags := make(map[string]bool)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		setFlags[f.Name] = true
	})

	section.Merge(rargs, setFlags)

	return nil
}

func runOperation(ctx context.Context, fsys afero.Fs, args []string, rargs runArgs, repairMode bool) error {
	log := logging.NewLogger(logging.Options{
		NoiseLevel: rargs.noiseLevel,
		Logout:     os.Stderr,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		WantJSON:   false,
	})

	opts := orchestrator.Options{
		ExtraPaths:  args[1:],
		Repair:      repairMode,
		MemoryLimit: rargs.memoryLimit.Value,
	}

	result, runErr := orchestrator.Run(ctx, fsys, args[0], opts, log)
	if result == nil {
		return fmt.Errorf("%w", runErr)
	}

	rep := report.Build(result, runErr)

	if rargs.wantJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("%w: failed to encode report: %w", schema.ErrExitLogic, err)
		}
	} else {
		rep.Summary(log)
	}

	if runErr != nil {
		return fmt.Errorf("%w", runErr)
	}

	return nil
}

func main() {
	var exitCode int
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n\n", r)
			debug.PrintStack()
			exitCode = schema.ExitCodeLogic
		}
		os.Exit(exitCode)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	rootCmd := newRootCmd(ctx)
	err := rootCmd.Execute()
	exitCode = schema.ExitCodeFor(err)
}
