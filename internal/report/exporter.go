// Package report renders occupancy and waitlist history to XLSX for
// operators. Terminal reservations and waitlist entries are retained in
// storage precisely so these exports stay complete.
package report

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"kennelbook/internal/models"
)

// Store supplies the rows to export.
type Store interface {
	ListReservationsByRange(ctx context.Context, tenantID string, start, end time.Time) ([]models.Reservation, error)
	ListWaitlistEntries(ctx context.Context, tenantID string, statuses []models.WaitlistStatus, category models.ServiceCategory) ([]models.WaitlistEntry, error)
}

// Exporter builds booking reports.
type Exporter struct {
	store  Store
	logger *zerolog.Logger
}

// NewExporter creates an exporter.
func NewExporter(store Store, logger *zerolog.Logger) *Exporter {
	return &Exporter{store: store, logger: logger}
}

const timeLayout = "2006-01-02 15:04"

// Export writes one workbook with a reservations sheet for the date range
// and a waitlist sheet with the full queue history.
func (e *Exporter) Export(ctx context.Context, tenantID string, from, to time.Time) (*bytes.Buffer, error) {
	reservations, err := e.store.ListReservationsByRange(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListWaitlistEntries(ctx, tenantID, nil, "")
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeReservations(f, reservations); err != nil {
		return nil, err
	}
	if err := e.writeWaitlist(f, entries); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	e.logger.Info().
		Str("tenant_id", tenantID).
		Int("reservations", len(reservations)).
		Int("waitlist_entries", len(entries)).
		Msg("report exported")
	return buf, nil
}

func (e *Exporter) writeReservations(f *excelize.File, reservations []models.Reservation) error {
	const sheet = "Reservations"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Resource", "Requester", "Start", "End", "Status", "Created"}
	if err := writeHeader(f, sheet, headers); err != nil {
		return err
	}

	for i, r := range reservations {
		row := []any{
			r.ID, r.ResourceID, r.RequesterRef,
			r.Start.Format(timeLayout), r.End.Format(timeLayout),
			string(r.Status), r.CreatedAt.Format(timeLayout),
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheet, "A", "C", 24)
}

func (e *Exporter) writeWaitlist(f *excelize.File, entries []models.WaitlistEntry) error {
	const sheet = "Waitlist"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}

	headers := []string{"ID", "Requester", "Category", "Requested Start", "Status", "Offers", "Converted To", "Created"}
	if err := writeHeader(f, sheet, headers); err != nil {
		return err
	}

	for i, w := range entries {
		row := []any{
			w.ID, w.RequesterRef, string(w.Category),
			w.RequestedStart.Format(timeLayout),
			string(w.Status), w.OfferCount, w.ConvertedReservation,
			w.CreatedAt.Format(timeLayout),
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheet, "A", "B", 24)
}

func writeHeader(f *excelize.File, sheet string, columns []string) error {
	if err := writeRowValues(f, sheet, 1, toAny(columns)); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil
	}
	start, _ := excelize.CoordinatesToCellName(1, 1)
	end, _ := excelize.CoordinatesToCellName(len(columns), 1)
	return f.SetCellStyle(sheet, start, end, style)
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []any) error {
	return writeRowValues(f, sheet, rowNum, values)
}

func writeRowValues(f *excelize.File, sheet string, rowNum int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func toAny(cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = c
	}
	return out
}
