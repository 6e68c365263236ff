package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/harborlight-collective/grantscout/internal/model"
)

var (
	exportOut   string
	exportLimit int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the review queue to an XLSX workbook",
	Long: `Export auto-discovered opportunities awaiting review to an XLSX
workbook, highest weighted score first. Intended for reviewers who triage
outside the web surface.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		opps, err := store.ListReviewQueue(ctx, exportLimit)
		if err != nil {
			return err
		}
		if len(opps) == 0 {
			fmt.Println("Review queue is empty")
			return nil
		}

		if err := writeReviewWorkbook(exportOut, opps); err != nil {
			return err
		}
		fmt.Printf("Wrote %d opportunities to %s\n", len(opps), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "review-queue.xlsx", "output file path")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum rows (0 = default)")
	rootCmd.AddCommand(exportCmd)
}

func writeReviewWorkbook(path string, opps []model.Opportunity) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Review Queue")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{
		"Score", "Recommendation", "Name", "Funder", "Type",
		"Award Ceiling", "Deadline", "Eligibility", "Red Flags", "Rationale",
		"Source", "External ID", "Discovered",
	} {
		header.AddCell().SetString(h)
	}

	for _, o := range opps {
		row := sheet.AddRow()
		row.AddCell().SetString(strconv.FormatFloat(o.WeightedScore, 'f', 1, 64))
		row.AddCell().SetString(o.Recommendation)
		row.AddCell().SetString(o.Name)
		row.AddCell().SetString(o.Funder)
		row.AddCell().SetString(o.GrantType)
		if o.AwardCeiling != nil {
			row.AddCell().SetFloat(*o.AwardCeiling)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(o.Deadline)
		row.AddCell().SetString(o.EligibilityNotes)
		row.AddCell().SetString(strings.Join(o.RedFlags, "; "))
		row.AddCell().SetString(o.Rationale)
		row.AddCell().SetString(o.Source)
		if o.ExternalID != nil {
			row.AddCell().SetString(*o.ExternalID)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(o.DiscoveredAt.UTC().Format("2006-01-02"))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}
