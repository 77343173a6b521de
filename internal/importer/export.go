package importer

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaigns"

	"github.com/xuri/excelize/v2"
)

var attemptHeader = []string{
	"attempt_id", "destination", "status", "outcome", "started_at", "answered_at", "ended_at",
	"duration_seconds", "signal", "hangup_cause", "hangup_cause_code", "connection_lost",
}

// ExportAttempts writes a campaign's attempts and dispatch failures to a
// workbook with one sheet each.
func ExportAttempts(c campaigns.Campaign, attempts []calls.Attempt, failures []campaigns.DispatchFailure) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	const attemptsSheet, failuresSheet = "attempts", "dispatch_failures"
	if err := xl.SetSheetName(xl.GetSheetName(0), attemptsSheet); err != nil {
		return nil, err
	}
	if _, err := xl.NewSheet(failuresSheet); err != nil {
		return nil, err
	}

	header := attemptHeader
	if err := xl.SetSheetRow(attemptsSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, a := range attempts {
		row := []any{
			a.ID, a.Destination, string(a.Status), string(a.Status.Outcome()),
			formatTime(&a.StartedAt), formatTime(a.AnsweredAt), formatTime(a.EndedAt),
			a.DurationSeconds, a.Signal, a.HangupCause, a.HangupCauseCode, strconv.FormatBool(a.ConnectionLost),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(attemptsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write attempt row %d: %w", i+2, err)
		}
	}

	fheader := []string{"destination", "reason", "at"}
	if err := xl.SetSheetRow(failuresSheet, "A1", &fheader); err != nil {
		return nil, err
	}
	for i, f := range failures {
		row := []string{f.Destination, f.Reason, f.At.UTC().Format(time.RFC3339)}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(failuresSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write failure row %d: %w", i+2, err)
		}
	}

	_ = xl.SetDocProps(&excelize.DocProperties{Title: c.Name, Subject: c.ID})

	var buf bytes.Buffer
	if err := xl.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
