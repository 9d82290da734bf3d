package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"fundus-cam/internal/config"
	"fundus-cam/internal/gradcam"
	"fundus-cam/internal/history"
	"fundus-cam/internal/model"
	"fundus-cam/internal/overlay"
	"fundus-cam/internal/pipeline"
)

var (
	configPath   string
	manifestPath string
	targetLayer  string
	threshold    float64
	circleRadius int
	alpha        float64
	outputRoot   string
	historyPath  string
	noImages     bool
	noHistory    bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "fundus-cam",
	Short: "Grad-CAM explanations and urgency triage for fundus images",
	Long: `fundus-cam runs a glaucoma classifier over eye fundus photographs, renders
a Grad-CAM heatmap of the evidence behind each prediction, measures the active
zone and scores how urgently the image needs review.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "fundus-cam.yaml", "Configuration file")
	pf.StringVar(&manifestPath, "manifest", "", "Model manifest (overrides model.manifest)")
	pf.StringVar(&targetLayer, "target-layer", "", "Convolution to explain (default: last one)")
	pf.Float64Var(&threshold, "threshold", config.DefaultThreshold, "Active-zone threshold in [0,1]")
	pf.IntVar(&circleRadius, "radius", config.DefaultCircleRadius, "Centroid marker radius in pixels")
	pf.Float64Var(&alpha, "alpha", config.DefaultAlpha, "Heatmap blend weight")
	pf.StringVarP(&outputRoot, "output", "o", "", "Output root folder (overrides output.root)")
	pf.StringVar(&historyPath, "history", "", "History database (overrides output.history)")
	pf.BoolVar(&noImages, "no-images", false, "Only write the per-image CSV record")
	pf.BoolVar(&noHistory, "no-history", false, "Do not append results to the history")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("manifest") {
		cfg.Model.Manifest = manifestPath
	}
	if flags.Changed("target-layer") {
		cfg.Model.TargetLayer = targetLayer
	}
	if flags.Changed("threshold") {
		cfg.Analysis.Threshold = threshold
	}
	if flags.Changed("radius") {
		cfg.Analysis.CircleRadius = circleRadius
	}
	if flags.Changed("alpha") {
		cfg.Analysis.Alpha = alpha
	}
	if flags.Changed("output") {
		cfg.Output.Root = outputRoot
	}
	if flags.Changed("history") {
		cfg.Output.History = historyPath
	}
	if noImages {
		save := false
		cfg.Output.SaveImages = &save
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// session bundles what an analysis command needs and releases it on Close.
type session struct {
	detector   *pipeline.Detector
	classifier *model.Classifier
	history    *history.DB
}

func (s *session) Close() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			log.Printf("Failed to close history: %v", err)
		}
	}
	if s.classifier != nil {
		if err := s.classifier.Close(); err != nil {
			log.Printf("Failed to release model: %v", err)
		}
	}
}

// openSession loads the model and, unless disabled, the history database.
func openSession(cfg *config.Config) (*session, error) {
	logger := newLogger()

	classifier, shape, err := model.LoadManifest(cfg.Model.Manifest)
	if err != nil {
		return nil, err
	}
	s := &session{classifier: classifier}
	if shape.H != shape.W || shape.H != cfg.Model.InputSize {
		s.Close()
		return nil, fmt.Errorf("model input %s does not match model.input_size %d", shape, cfg.Model.InputSize)
	}

	gm, err := model.NewGradModel(classifier, cfg.Model.TargetLayer, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	opts := pipeline.Options{
		Threshold:  cfg.Analysis.Threshold,
		InputSize:  cfg.Model.InputSize,
		OutputRoot: cfg.Output.Root,
		SaveImages: cfg.Output.SaveImagesEnabled(),
		Overlay: overlay.DefaultOptions().
			WithAlpha(cfg.Analysis.Alpha).
			WithCircleRadius(cfg.Analysis.CircleRadius),
	}
	detectorOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if !noHistory {
		h, err := history.Open(cfg.Output.History)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.history = h
		detectorOpts = append(detectorOpts, pipeline.WithRecorder(h))
	}

	s.detector, err = pipeline.NewDetector(gradcam.NewEngine(gm), opts, detectorOpts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
