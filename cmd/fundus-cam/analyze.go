package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fundus-cam/internal/detection"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Analyze a single fundus image",
	Long: `Analyze one image: predict, compute the Grad-CAM heatmap, measure the
active zone, score urgency and write the overlay, heatmap and CSV record to
<output>/<image name>/.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.detector.ProcessImage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func printResult(r detection.Result) {
	c := r.CentroidOrSentinel()
	b := r.BBoxOrSentinel()
	fmt.Printf("Image: %s\n", r.Image)
	fmt.Printf("  Probability: %.4f\n", r.Probability)
	fmt.Printf("  Active zone: %.4f of the image\n", r.AreaRatio)
	fmt.Printf("  Centroid: (%.1f, %.1f)\n", c.X, c.Y)
	fmt.Printf("  BBox: (%d, %d) - (%d, %d)\n", b.XMin, b.YMin, b.XMax, b.YMax)
	fmt.Printf("  Urgency: %.3f %s\n", r.Urgency, r.Label)
	if r.OverlayPath != "" {
		fmt.Printf("  Overlay: %s\n", r.OverlayPath)
		fmt.Printf("  Heatmap: %s\n", r.HeatmapPath)
	}
	fmt.Printf("  Record: %s\n", r.CSVPath)
}
