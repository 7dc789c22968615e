package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"warpmap/internal/alignment"
	"warpmap/internal/archive"
	"warpmap/internal/config"
	"warpmap/internal/logging"
	"warpmap/internal/version"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

// Environment overrides, read after .env is loaded.
const (
	envConfig   = "WARPMAP_CONFIG"
	envLogLevel = "WARPMAP_LOG_LEVEL"
)

type rootFlags struct {
	configPath string
	logLevel   string
	jsonLogs   bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "computemap",
		Short:         "Compute dense correspondence maps between two images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "TOML config file (default $"+envConfig+")")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (default $"+envLogLevel+" or config)")
	root.PersistentFlags().BoolVar(&flags.jsonLogs, "json", false, "log JSON instead of console text")

	root.AddCommand(newMapCmd(flags), newInspectCmd(), newVersionCmd())
	return root
}

func newMapCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "map <imageA> <imageB> <outdir>",
		Short: "Match two images and archive the resampling maps",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			mapping, err := alignment.NewMapper(*cfg, log).Run(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), mapping.Report)
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <outdir>",
		Short: "Print the manifest and map ranges of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := archive.Read(args[0])
			if err != nil {
				return err
			}
			printArchive(cmd.OutOrStdout(), ar)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// loadConfig resolves the config path from the flag, then the environment,
// and falls back to the defaults when neither is set.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = os.Getenv(envConfig)
	}
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config, flags *rootFlags, w io.Writer) (zerolog.Logger, error) {
	level := cfg.Log.Level
	if env := os.Getenv(envLogLevel); env != "" {
		level = env
	}
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	return logging.New(logging.Options{
		Level:   level,
		Console: cfg.Log.Console && !flags.jsonLogs,
		Writer:  w,
	})
}

func printReport(w io.Writer, r *alignment.Report) {
	fmt.Fprintf(w, "grid:       %dx%d\n", r.Grid.Width, r.Grid.Height)
	fmt.Fprintf(w, "keypoints:  %d / %d\n", r.KeypointsA, r.KeypointsB)
	fmt.Fprintf(w, "matches:    %d kept of %d\n", r.Filter.Kept, r.Filter.Input)
	fmt.Fprintf(w, "median:     dx=%.3f dy=%.3f\n", r.Filter.X.Median, r.Filter.Y.Median)
	fmt.Fprintf(w, "mad:        dx=%.3f dy=%.3f\n", r.Filter.X.MAD, r.Filter.Y.MAD)
	if r.Affine != nil {
		t := r.Affine.Transform
		fmt.Fprintf(w, "affine:     rot=%.3f° scale=%.5f t=(%.2f, %.2f) rms=%.3f\n",
			t.RotationDegrees(), t.ScaleFactor(), t.TX, t.TY, r.Affine.RMS)
	}
	fmt.Fprintf(w, "samples:    placed=%d dropped=%d collided=%d fallback=%d\n",
		r.Placed, r.Dropped, r.Collided, r.Fallback)
	if r.Preview != "" {
		fmt.Fprintf(w, "preview:    %s\n", r.Preview)
	}
	if r.Before != nil && r.After != nil {
		fmt.Fprintf(w, "residual:   mae %.2f -> %.2f, rms %.2f -> %.2f\n",
			r.Before.MeanAbs, r.After.MeanAbs, r.Before.RMS, r.After.RMS)
	}

	stages := make([]string, 0, len(r.Timings))
	for k := range r.Timings {
		stages = append(stages, k)
	}
	sort.Strings(stages)
	for _, k := range stages {
		fmt.Fprintf(w, "time %-10s %v\n", k+":", r.Timings[k])
	}
	fmt.Fprintf(w, "output:     %s\n", r.OutputDir)
}

func printArchive(w io.Writer, ar *archive.Archive) {
	m := ar.Manifest
	fmt.Fprintf(w, "version:     %s\n", m.Version)
	fmt.Fprintf(w, "created:     %s\n", m.Created.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "images:      %s -> %s\n", m.ImageA, m.ImageB)
	fmt.Fprintf(w, "grid:        %dx%d\n", m.Grid.Width, m.Grid.Height)
	fmt.Fprintf(w, "match scale: %g\n", m.MatchScale)
	fmt.Fprintf(w, "matches:     %d kept of %d\n", m.Kept, m.Matches)
	fmt.Fprintf(w, "column map:  [%.4f, %.4f]\n", mat.Min(ar.ColumnMap), mat.Max(ar.ColumnMap))
	fmt.Fprintf(w, "row map:     [%.4f, %.4f]\n", mat.Min(ar.RowMap), mat.Max(ar.RowMap))
	if m.Preview != "" {
		fmt.Fprintf(w, "preview:     %s\n", m.Preview)
	}
}
