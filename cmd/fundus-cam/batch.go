package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fundus-cam/internal/detection"
)

var batchCmd = &cobra.Command{
	Use:   "batch <folder>",
	Short: "Analyze every image in a folder",
	Long: `Analyze every .jpg, .jpeg, .png, .bmp and .tiff file in a folder in name
order. Images that fail are reported and skipped. Results are listed by
urgency, highest first.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	results, err := s.detector.ProcessFolder(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	detection.SortByUrgency(results)
	fmt.Println(detection.Summarize(results))
	for _, r := range results {
		fmt.Printf("%s | urg=%.3f | %s\n", r.Name(), r.Urgency, r.Label)
	}
	return nil
}
