package handlers

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	statshandler "partnerhub/internal/services/stats/handler"
)

const (
	seriesSheet  = "Series"
	summarySheet = "Summary"
)

// reportWorkbook renders a stats report as an xlsx workbook with the bucketed series and
// the range summary on separate sheets.
func reportWorkbook(report *statshandler.Report) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(seriesSheet)
	if err != nil {
		return nil, err
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headers := []interface{}{"Bucket", "Start", "End", "Clicks", "Leads", "Booked Calls", "Commission"}
	if err := f.SetSheetRow(seriesSheet, "A1", &headers); err != nil {
		return nil, err
	}
	for i, p := range report.Series {
		commission, _ := p.Commission.Float64()
		row := []interface{}{
			p.Label,
			p.Start.Format("2006-01-02 15:04"),
			p.End.Format("2006-01-02 15:04"),
			p.Clicks,
			p.Leads,
			p.BookedCalls,
			commission,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(seriesSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	commission, _ := report.Summary.Commission.Float64()
	summary := [][]interface{}{
		{"Affiliate", report.AffiliateID},
		{"Referral Code", report.ReferralCode},
		{"Range", string(report.Range)},
		{"Clicks", report.Summary.Clicks},
		{"Leads", report.Summary.Leads},
		{"Qualified Leads", report.Summary.QualifiedLeads},
		{"Booked Calls", report.Summary.BookedCalls},
		{"Sales", report.Summary.Sales},
		{"Commission", commission},
		{"Conversion Rate %", report.Summary.ConversionRate},
		{"Generated At", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return nil, err
		}
	}

	return f.WriteToBuffer()
}
