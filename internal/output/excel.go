// internal/output/excel.go
package output

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/valpere/ReviewScrapexter/internal/jobs"
)

const (
	reviewsSheet = "Reviews"
	summarySheet = "Summary"

	// Excel rejects longer cell values
	maxCellLength = 32767
)

var reviewHeaders = []string{
	"#", "Reviewer", "Rating", "Date", "Title", "Text",
	"Source", "Store", "Origin", "URL", "Confidence",
}

var reviewColumnWidths = map[string]float64{
	"A": 6, "B": 20, "C": 8, "D": 12, "E": 30, "F": 80,
	"G": 12, "H": 18, "I": 24, "J": 40, "K": 12,
}

// WriteWorkbook writes a finished job as an xlsx workbook with a Reviews
// sheet and a Summary sheet.
func WriteWorkbook(w io.Writer, snap *jobs.Snapshot) error {
	if err := archivable(snap); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), reviewsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}

	header, err := headerStyle(f)
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := writeReviews(f, snap, header); err != nil {
		return fmt.Errorf("write reviews sheet: %w", err)
	}
	if err := writeSummary(f, snap, header); err != nil {
		return fmt.Errorf("write summary sheet: %w", err)
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
}

func writeReviews(f *excelize.File, snap *jobs.Snapshot, header int) error {
	row := make([]any, len(reviewHeaders))
	for i, h := range reviewHeaders {
		row[i] = h
	}
	if err := f.SetSheetRow(reviewsSheet, "A1", &row); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(reviewHeaders), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(reviewsSheet, "A1", last, header); err != nil {
		return err
	}

	for i, r := range snap.Result.Reviews {
		var rating any
		if r.Rating != nil {
			rating = *r.Rating
		}
		values := []any{
			i + 1, r.ReviewerName, rating, r.Date, cell(r.Title), cell(r.Text),
			string(r.Source), r.Store, r.Origin, r.URL, r.Confidence,
		}
		start, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(reviewsSheet, start, &values); err != nil {
			return err
		}
	}

	for col, width := range reviewColumnWidths {
		if err := f.SetColWidth(reviewsSheet, col, col, width); err != nil {
			return err
		}
	}

	if n := len(snap.Result.Reviews); n > 0 {
		ref, err := excelize.CoordinatesToCellName(len(reviewHeaders), n+1)
		if err != nil {
			return err
		}
		if err := f.AutoFilter(reviewsSheet, "A1:"+ref, nil); err != nil {
			return err
		}
	}
	return f.SetPanes(reviewsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, snap *jobs.Snapshot, header int) error {
	s := snap.Result.Summary

	var trust any
	if s.TrustScore != nil {
		trust = *s.TrustScore
	}
	rows := [][]any{
		{"Field", "Value"},
		{"Job ID", snap.ID},
		{"Product", snap.Request.ProductName},
		{"Source", string(snap.Request.Source)},
		{"Average rating", s.AverageRating},
		{"Overall sentiment", string(s.OverallSentiment)},
		{"Common praises", strings.Join(s.CommonPraises, "\n")},
		{"Common complaints", strings.Join(s.CommonComplaints, "\n")},
		{"Verified positives", strings.Join(s.VerifiedPatterns.Positive, "\n")},
		{"Verified negatives", strings.Join(s.VerifiedPatterns.Negative, "\n")},
		{"Trust score", trust},
		{"Reviews returned", len(snap.Result.Reviews)},
		{"Total found", snap.Result.TotalFound},
		{"Raw candidates", snap.Result.RawCount},
		{"Degraded", s.Degraded || snap.Degraded},
		{"Completed at", completedAt(snap).UTC().Format("2006-01-02 15:04:05")},
	}

	for i, values := range rows {
		start, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, start, &values); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", header); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 22); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "B", "B", 80)
}

func cell(s string) string {
	if utf8.RuneCountInString(s) <= maxCellLength {
		return s
	}
	return string([]rune(s)[:maxCellLength])
}
