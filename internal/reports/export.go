package reports

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	alarms "github.com/mariatle/DB-Kurs/internal/alarms/domain"
	analysis "github.com/mariatle/DB-Kurs/internal/analysis/domain"
	incidents "github.com/mariatle/DB-Kurs/internal/incidents/domain"
	telemetry "github.com/mariatle/DB-Kurs/internal/telemetry/domain"
)

// BuildIncidentPDF renders an incident summary with its alarms and full
// status history.
func BuildIncidentPDF(incident *incidents.Incident, linked []alarms.Alarm, history []incidents.StatusHistory) ([]byte, error) {
	if incident == nil {
		return nil, errors.New("reports: nil incident")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Incident Report #%d", incident.ID))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if incident.LocationID != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Location: %d", *incident.LocationID))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", incident.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Detected: %s", incident.DetectedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Window start: %s", incident.TimeWindowStart.Format(time.RFC3339)))
	pdf.Ln(5)
	if incident.TimeWindowEnd != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Window end: %s", incident.TimeWindowEnd.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	if incident.ResolvedAt != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Resolved: %s", incident.ResolvedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	if incident.Description != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Description: %s", incident.Description))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "Alarms")
	pdf.Ln(7)
	pdf.CellFormat(25, 6, "ID", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Raised", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, alarm := range linked {
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", alarm.ID), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, string(alarm.Severity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, alarm.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, alarm.AlarmAt.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "Status History")
	pdf.Ln(7)
	pdf.CellFormat(30, 6, "From", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "To", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Changed", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Actor", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Comment", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, record := range history {
		from := ""
		if record.OldStatus != nil {
			from = *record.OldStatus
		}
		pdf.CellFormat(30, 6, from, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, record.NewStatus, "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, record.ChangedAt.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, record.Actor, "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, record.Comment, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildTelemetryXLSX renders recent readings and their analyses as a
// two-sheet workbook.
func BuildTelemetryXLSX(readings []telemetry.Reading, analyses []analysis.Analysis) ([]byte, error) {
	f := excelize.NewFile()
	readingsSheet := "readings"
	analysesSheet := "analyses"
	f.SetSheetName("Sheet1", readingsSheet)
	f.NewSheet(analysesSheet)

	_ = f.SetCellValue(readingsSheet, "A1", "ID")
	_ = f.SetCellValue(readingsSheet, "B1", "Device")
	_ = f.SetCellValue(readingsSheet, "C1", "Temperature (C)")
	_ = f.SetCellValue(readingsSheet, "D1", "Humidity (%)")
	_ = f.SetCellValue(readingsSheet, "E1", "CO2 (ppm)")
	_ = f.SetCellValue(readingsSheet, "F1", "Recorded")
	_ = f.SetCellValue(readingsSheet, "G1", "Processed")
	for i, reading := range readings {
		row := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), reading.ID)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", row), reading.DeviceID)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("C%d", row), decimalCell(reading.Temperature))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("D%d", row), decimalCell(reading.Humidity))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("E%d", row), decimalCell(reading.CO2Level))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("F%d", row), reading.RecordedAt.Format(time.RFC3339))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("G%d", row), reading.Processed)
	}

	_ = f.SetCellValue(analysesSheet, "A1", "ID")
	_ = f.SetCellValue(analysesSheet, "B1", "Reading")
	_ = f.SetCellValue(analysesSheet, "C1", "Fire Hazard")
	_ = f.SetCellValue(analysesSheet, "D1", "Analyzed")
	for i, record := range analyses {
		row := i + 2
		_ = f.SetCellValue(analysesSheet, fmt.Sprintf("A%d", row), record.ID)
		_ = f.SetCellValue(analysesSheet, fmt.Sprintf("B%d", row), record.ReadingID)
		_ = f.SetCellValue(analysesSheet, fmt.Sprintf("C%d", row), decimalCell(record.Score))
		_ = f.SetCellValue(analysesSheet, fmt.Sprintf("D%d", row), record.AnalyzedAt.Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decimalCell(value decimal.NullDecimal) string {
	if !value.Valid {
		return ""
	}
	return value.Decimal.String()
}
