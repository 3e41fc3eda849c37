package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/hispeedtriggercam/classpatch/config"
	"github.com/hispeedtriggercam/classpatch/jar"
	"github.com/hispeedtriggercam/classpatch/patch"
	"github.com/hispeedtriggercam/classpatch/telemetry"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
)

type patchFlags struct {
	target        string
	method        string
	h265          bool
	encoderFrom   int
	encoderTo     int
	cbrClass      string
	texts         []string
	noFingerprint bool
	scoped        bool
	dryRun        bool
}

func newRootCmd() *cobra.Command {
	cmd := newPatchCmd()
	cmd.AddCommand(newInspectCmd())
	return cmd
}

func newPatchCmd() *cobra.Command {
	cfg := config.FromEnv()
	var (
		flags   patchFlags
		verbose int
	)

	cmd := &cobra.Command{
		Use:   "classpatch <input.jar> <output.jar> <old-value> <new-value>",
		Short: "Patch a class file inside a jar without recompiling it",
		Long: `Rewrites the bitrate constant of a class inside a jar, optionally switches
the video encoder passed to setVideoEncoder, and stamps same-length text
fingerprints. Every edit keeps the class the same size.`,
		Args: cobra.ExactArgs(4),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			commonlog.Configure(cfg.Verbosity+verbose, nil)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			opts, err := buildOptions(cmd, args, flags)
			if err != nil {
				return err
			}
			return runPatch(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], args[1], opts, flags.dryRun)
		},
	}

	cmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (repeatable)")

	cmd.Flags().StringVar(&flags.target, "target", cfg.Target, "class entry to patch inside the jar")
	cmd.Flags().StringVar(&flags.method, "method", cfg.Method, "method whose iconst argument the encoder patch rewrites")
	cmd.Flags().BoolVar(&flags.h265, "h265", false, "change the encoder from H.264 to H.265/HEVC")
	cmd.Flags().IntVar(&flags.encoderFrom, "encoder-from", config.DefaultEncoderFrom, "encoder constant to replace (0-5)")
	cmd.Flags().IntVar(&flags.encoderTo, "encoder-to", config.DefaultEncoderTo, "encoder constant to write (0-5)")
	cmd.Flags().StringVar(&flags.cbrClass, "cbr-class", "", "replace the target class with this compiled class before patching")
	cmd.Flags().StringArrayVar(&flags.texts, "text", nil, "extra same-length replacement OLD=NEW (repeatable)")
	cmd.Flags().BoolVar(&flags.noFingerprint, "no-fingerprint", false, "skip the default fingerprint strings")
	cmd.Flags().BoolVar(&flags.scoped, "scoped", cfg.Scoped, "only match inside constant pool entries and method code")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "run every patch but do not write the output jar")

	return cmd
}

// buildOptions validates the whole invocation before any archive is opened.
func buildOptions(cmd *cobra.Command, args []string, flags patchFlags) (patch.Options, error) {
	oldValue, err := config.ParseInt32(args[2])
	if err != nil {
		return patch.Options{}, err
	}
	newValue, err := config.ParseInt32(args[3])
	if err != nil {
		return patch.Options{}, err
	}

	opts := patch.Options{
		Target:   flags.target,
		OldValue: oldValue,
		NewValue: newValue,
		Scoped:   flags.scoped,
	}

	if flags.h265 || cmd.Flags().Changed("encoder-from") || cmd.Flags().Changed("encoder-to") {
		opts.Encoder, err = config.Encoder(flags.method, flags.encoderFrom, flags.encoderTo)
		if err != nil {
			return patch.Options{}, err
		}
	}

	if !flags.noFingerprint {
		opts.Text = config.DefaultTextPairs()
	}
	for _, text := range flags.texts {
		pair, err := config.ParseTextPair(text)
		if err != nil {
			return patch.Options{}, err
		}
		opts.Text = append(opts.Text, pair)
	}

	if err := opts.Validate(); err != nil {
		return patch.Options{}, err
	}

	if flags.cbrClass != "" {
		data, err := os.ReadFile(flags.cbrClass)
		if err != nil {
			return patch.Options{}, fmt.Errorf("failed to read replacement class: %w", err)
		}
		opts.Replacement = data
		opts.ReplacementName = flags.cbrClass
	}
	return opts, nil
}

func runPatch(ctx context.Context, out io.Writer, cfg config.Config, input, output string, opts patch.Options, dryRun bool) error {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	archive, err := jar.Read(input)
	if err != nil {
		return err
	}
	defer archive.Close()

	report, err := patch.NewPipeline(opts).Run(ctx, archive)
	if report != nil {
		printReport(out, report)
	}
	if err != nil {
		return err
	}

	if dryRun {
		color.New(color.FgYellow).Fprintf(out, "Dry run: %s not written\n", output)
		return nil
	}
	if err := archive.Write(output); err != nil {
		return err
	}
	color.New(color.FgGreen, color.Bold).Fprintf(out, "Saved: %s\n", output)
	return nil
}

var outcomeColors = map[patch.Outcome]*color.Color{
	patch.OutcomeApplied: color.New(color.FgGreen),
	patch.OutcomeSkipped: color.New(color.Faint),
	patch.OutcomeWarned:  color.New(color.FgYellow),
}

func printReport(w io.Writer, report *patch.Report) {
	for _, res := range report.Results {
		c, ok := outcomeColors[res.Outcome]
		if !ok {
			c = color.New(color.Reset)
		}
		c.Fprintf(w, "%-8s", res.Outcome)
		fmt.Fprintf(w, " %-14s", res.Stage)
		if res.Offset >= 0 {
			fmt.Fprintf(w, " 0x%06x", res.Offset)
		} else {
			fmt.Fprintf(w, " %8s", "")
		}
		fmt.Fprintf(w, "  %s\n", res.Detail)
	}
}
