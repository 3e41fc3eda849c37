package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/hispeedtriggercam/classpatch/config"
	"github.com/hispeedtriggercam/classpatch/format"
	"github.com/hispeedtriggercam/classpatch/jar"
	"github.com/hispeedtriggercam/classpatch/patch"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	cfg := config.FromEnv()
	var (
		target       string
		method       string
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "inspect <file.jar|file.class>",
		Short: "Show the constant pool and patch sites of a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runInspect(cmd.OutOrStdout(), args[0], target, method, outputFormat)
		},
	}

	cmd.Flags().StringVar(&target, "target", cfg.Target, "class entry to inspect when reading a jar")
	cmd.Flags().StringVar(&method, "method", cfg.Method, "method name to resolve to Methodref entries")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "line", "output format (line, json)")

	return cmd
}

func runInspect(out io.Writer, path, target, method, outputFormat string) error {
	var enc format.Encoder
	switch outputFormat {
	case "line":
		enc = format.NewLineEncoder(out)
	case "json":
		enc = format.NewJSONEncoder(out)
	default:
		return patch.WrapConfig("unknown format: %s (expected line or json)", outputFormat)
	}

	entry, data, err := loadClass(path, target)
	if err != nil {
		return err
	}

	report, err := format.NewClassReport(entry, data, method)
	if err != nil {
		return err
	}

	if outputFormat == "line" {
		color.New(color.Bold).Fprintf(out, "# %s\n", entry)
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode %s: %w", outputFormat, err)
	}
	if outputFormat == "json" {
		fmt.Fprintln(out)
	}
	return nil
}

// loadClass reads a bare .class file, or the target entry of a jar.
func loadClass(path, target string) (string, []byte, error) {
	if filepath.Ext(path) == ".class" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read class file: %w", err)
		}
		return path, data, nil
	}

	archive, err := jar.Read(path)
	if err != nil {
		return "", nil, err
	}
	defer archive.Close()

	data, ok := archive.Get(target)
	if !ok {
		return "", nil, patch.WrapMissingEntry(target)
	}
	return target, data, nil
}
