package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fundus-cam/internal/config"
	"fundus-cam/internal/history"
	"fundus-cam/internal/urgency"
)

var (
	historyLabel string
	historySort  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the master history of analyzed images",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List history records",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <file.csv>",
	Short: "Export the whole history to CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryExport,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record and its detection folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyExportCmd, historyDeleteCmd)

	historyListCmd.Flags().StringVarP(&historyLabel, "label", "l", "", "Only show ALTA, MEDIA or BAJA")
	historyListCmd.Flags().StringVarP(&historySort, "sort", "s", history.SortDateDesc.String(),
		"Order: date-desc, date-asc, urgency-desc, urgency-asc")
}

func openHistory(cmd *cobra.Command) (*history.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	path := cfg.Output.History
	if cmd.Flags().Changed("history") {
		path = historyPath
	}
	return history.Open(path)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	q := history.Query{}
	if historyLabel != "" {
		label, err := urgency.ParseLabel(historyLabel)
		if err != nil {
			return err
		}
		q.Label = label
	}
	sortOrder, err := history.ParseSort(historySort)
	if err != nil {
		return err
	}
	q.Sort = sortOrder

	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	records, err := h.List(cmd.Context(), q)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%4d | %s | %s | urg=%.3f | %s\n",
			r.ID, r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.Name(), r.Urgency, r.Label)
	}
	fmt.Printf("%d records\n", len(records))
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.ExportCSV(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Exported history to %s\n", args[0])
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", args[0], err)
	}
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	rec, err := h.Delete(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted record %d (%s)\n", rec.ID, rec.Folder())
	return nil
}
