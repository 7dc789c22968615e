// Package alignment runs the full mapping pipeline on an image pair:
// pyramid downsampling, feature matching, outlier rejection, dense field
// reconstruction and archiving.
package alignment

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"warpmap/internal/archive"
	"warpmap/internal/config"
	"warpmap/internal/features"
	"warpmap/internal/field"
	warpimage "warpmap/internal/image"
	"warpmap/internal/logging"
	"warpmap/internal/match"
	"warpmap/internal/outlier"
	"warpmap/internal/version"
	"warpmap/pkg/geometry"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// PreviewFile is the name of the warped preview inside an output directory.
const PreviewFile = "warped_b.tiff"

// Report summarizes one mapping run.
type Report struct {
	Grid       geometry.Size // Map size (image A at pyramid level)
	KeypointsA int
	KeypointsB int
	Shifts     outlier.Summary
	Filter     outlier.Stats
	Affine     *AffineFit // nil with fewer than 3 kept matches
	Placed     int
	Dropped    int
	Collided   int
	Fallback   int
	OutputDir  string
	Preview    string
	Before     *warpimage.Residual // A against unwarped B; set with the preview
	After      *warpimage.Residual // A against warped B
	Timings    map[string]time.Duration
}

// Mapping is the in-memory result of MapImages.
type Mapping struct {
	Matches []match.Correspondence // Before filtering
	Good    []match.Correspondence
	Field   *field.Result
	Report  *Report
	Levels  *Levels // nil once closed
}

// Levels holds both images at the pyramid level the maps were built on.
type Levels struct {
	A, B gocv.Mat
}

// Close releases the pyramid levels.
func (m *Mapping) Close() error {
	if m.Levels == nil {
		return nil
	}
	errA := m.Levels.A.Close()
	errB := m.Levels.B.Close()
	m.Levels = nil
	if errA != nil {
		return errA
	}
	return errB
}

// Mapper runs the pipeline with one configuration.
type Mapper struct {
	cfg config.Config
	log zerolog.Logger
}

// NewMapper creates a Mapper. cfg must already be validated.
func NewMapper(cfg config.Config, log zerolog.Logger) *Mapper {
	return &Mapper{cfg: cfg, log: logging.Component(log, "mapper")}
}

// Smoother returns the smoother selected by the diffusion backend.
func (m *Mapper) Smoother() field.Smoother {
	if m.cfg.Diffusion.Backend == "opencv" {
		return warpimage.CVSmoother{}
	}
	return field.GaussianSmoother{Workers: m.cfg.Diffusion.Workers}
}

// MapImages matches two full-resolution grayscale images and builds the
// resampling maps on the downsampled grid of a. The caller must Close the
// returned Mapping.
func (m *Mapper) MapImages(a, b gocv.Mat) (*Mapping, error) {
	if a.Empty() || b.Empty() {
		return nil, fmt.Errorf("empty input image")
	}
	report := &Report{Timings: make(map[string]time.Duration)}

	start := time.Now()
	smallA, err := warpimage.Downsample(a, m.cfg.Pyramid.Octaves, m.cfg.Pyramid.MedianKernel)
	if err != nil {
		return nil, fmt.Errorf("downsample A: %w", err)
	}
	smallB, err := warpimage.Downsample(b, m.cfg.Pyramid.Octaves, m.cfg.Pyramid.MedianKernel)
	if err != nil {
		smallA.Close()
		return nil, fmt.Errorf("downsample B: %w", err)
	}
	levels := &Levels{A: smallA, B: smallB}
	report.Grid = geometry.Size{Width: smallA.Cols(), Height: smallA.Rows()}
	report.Timings["pyramid"] = time.Since(start)

	start = time.Now()
	matcher := features.NewMatcher(features.Params{
		MaxFeatures:   m.cfg.Features.MaxFeatures,
		ScaleFactor:   m.cfg.Features.ScaleFactor,
		Levels:        m.cfg.Features.Levels,
		EdgeThreshold: m.cfg.Features.EdgeThreshold,
		PatchSize:     m.cfg.Features.PatchSize,
		FastThreshold: m.cfg.Features.FastThreshold,
	})
	defer matcher.Close()

	det, err := matcher.Match(smallA, smallB)
	if err != nil {
		(&Mapping{Levels: levels}).Close()
		return nil, fmt.Errorf("match features: %w", err)
	}
	report.KeypointsA = det.KeypointsA
	report.KeypointsB = det.KeypointsB
	report.Timings["match"] = time.Since(start)

	m.log.Info().
		Int("keypoints_a", det.KeypointsA).
		Int("keypoints_b", det.KeypointsB).
		Int("matches", len(det.Matches)).
		Dur("elapsed", report.Timings["match"]).
		Msg("features matched")

	mapping, err := m.mapMatches(det.Matches, report)
	if err != nil {
		(&Mapping{Levels: levels}).Close()
		return nil, err
	}
	mapping.Levels = levels
	return mapping, nil
}

// mapMatches filters raw matches and diffuses the survivors over
// report.Grid.
func (m *Mapper) mapMatches(matches []match.Correspondence, report *Report) (*Mapping, error) {
	report.Shifts = outlier.Summarize(matches)
	s := report.Shifts
	m.log.Debug().
		Floats64("x_shift", []float64{s.X.Q1, s.X.Q2, s.X.Q3}).
		Floats64("y_shift", []float64{s.Y.Q1, s.Y.Q2, s.Y.Q3}).
		Floats64("l2_shift", []float64{s.L2.Q1, s.L2.Q2, s.L2.Q3}).
		Float64("quality_mean", s.QualityMean).
		Float64("quality_stddev", s.QualityStdDev).
		Msg("shift quartiles")

	start := time.Now()
	good, stats := outlier.Filter(matches, m.cfg.FilterOptions())
	report.Filter = stats
	report.Timings["filter"] = time.Since(start)

	m.log.Info().
		Float64("median_x", stats.X.Median).
		Float64("median_y", stats.Y.Median).
		Float64("mad_x", stats.X.MAD).
		Float64("mad_y", stats.Y.MAD).
		Float64("mad", stats.CombinedMAD()).
		Int("good", stats.Kept).
		Int("total", stats.Input).
		Msg("outliers rejected")

	if len(good) >= 3 {
		fit, err := FitAffine(good)
		if err != nil {
			m.log.Warn().Err(err).Msg("affine fit failed")
		} else {
			report.Affine = fit
			m.log.Info().
				Float64("rotation_deg", fit.Transform.RotationDegrees()).
				Float64("scale", fit.Transform.ScaleFactor()).
				Float64("tx", fit.Transform.TX).
				Float64("ty", fit.Transform.TY).
				Float64("rms", fit.RMS).
				Msg("global affine component")
		}
	}

	start = time.Now()
	opts := m.cfg.FieldOptions()
	opts.Smoother = m.Smoother()
	res, err := field.Build(good, report.Grid.Width, report.Grid.Height, opts)
	if err != nil {
		return nil, fmt.Errorf("build field: %w", err)
	}
	report.Placed = res.Placed
	report.Dropped = res.Dropped
	report.Collided = res.Collided
	report.Fallback = res.Fallback
	report.Timings["diffusion"] = time.Since(start)

	m.log.Info().
		Int("placed", res.Placed).
		Int("dropped", res.Dropped).
		Int("collided", res.Collided).
		Int("fallback_pixels", res.Fallback).
		Dur("elapsed", report.Timings["diffusion"]).
		Msg("field built")

	return &Mapping{Matches: matches, Good: good, Field: res, Report: report}, nil
}

// Run loads both images, maps them and archives the result in outDir. The
// returned Mapping has its pyramid levels already released.
func (m *Mapper) Run(pathA, pathB, outDir string) (*Mapping, error) {
	start := time.Now()
	a, err := warpimage.LoadGray(pathA)
	if err != nil {
		return nil, fmt.Errorf("load A: %w", err)
	}
	defer a.Close()
	b, err := warpimage.LoadGray(pathB)
	if err != nil {
		return nil, fmt.Errorf("load B: %w", err)
	}
	defer b.Close()
	loadTime := time.Since(start)
	m.log.Info().Dur("elapsed", loadTime).Msg("images loaded")

	mapping, err := m.MapImages(a, b)
	if err != nil {
		return nil, err
	}
	defer mapping.Close()

	report := mapping.Report
	report.Timings["load"] = loadTime
	report.OutputDir = outDir

	ar := &archive.Archive{
		Manifest: archive.Manifest{
			Version:    version.Version,
			Created:    time.Now().UTC().Truncate(time.Second),
			ImageA:     pathA,
			ImageB:     pathB,
			Grid:       report.Grid,
			MatchScale: m.cfg.MatchScale(),
			Matches:    len(mapping.Matches),
			Kept:       len(mapping.Good),
		},
		MatchPoints: match.Table(mapping.Good, m.cfg.MatchScale()),
		ColumnMap:   mapping.Field.XMap.Dense(),
		RowMap:      mapping.Field.YMap.Dense(),
	}

	if m.cfg.Output.Preview {
		preview, err := m.writePreview(mapping, outDir)
		if err != nil {
			return nil, err
		}
		report.Preview = preview
		ar.Manifest.Preview = filepath.Base(preview)
	}

	if err := archive.Write(outDir, ar); err != nil {
		return nil, err
	}
	m.log.Info().Str("dir", outDir).Int("kept", len(mapping.Good)).Msg("archive written")
	return mapping, nil
}

// writePreview warps the pyramid level of B through the maps so it lines
// up with A, and records the photometric residual before and after.
func (m *Mapper) writePreview(mapping *Mapping, outDir string) (string, error) {
	if mapping.Levels == nil {
		return "", fmt.Errorf("preview: pyramid levels released")
	}
	smallA, smallB := mapping.Levels.A, mapping.Levels.B
	report := mapping.Report

	warped, err := warpimage.Warp(smallB, mapping.Field.XMap, mapping.Field.YMap)
	if err != nil {
		return "", fmt.Errorf("preview: %w", err)
	}
	defer warped.Close()

	before, err := warpimage.CompareMats(smallA, smallB)
	if err != nil {
		return "", fmt.Errorf("preview residual: %w", err)
	}
	after, err := warpimage.CompareMats(smallA, warped)
	if err != nil {
		return "", fmt.Errorf("preview residual: %w", err)
	}
	report.Before, report.After = &before, &after
	m.log.Info().
		Float64("mae_before", before.MeanAbs).
		Float64("mae_after", after.MeanAbs).
		Float64("rms_before", before.RMS).
		Float64("rms_after", after.RMS).
		Msg("photometric residual")

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("preview: %w", err)
	}
	path := filepath.Join(outDir, PreviewFile)
	if err := warpimage.WriteTIFF(path, warped); err != nil {
		return "", fmt.Errorf("preview: %w", err)
	}
	return path, nil
}
