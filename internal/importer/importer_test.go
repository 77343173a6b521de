package importer

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaigns"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSVWithHeader(t *testing.T) {
	in := "name,phone\nAda,+90 555 111 0001\nBob,(555) 111-0002\nEve,call me\n"
	res, err := Read(strings.NewReader(in), FormatCSV)
	require.NoError(t, err)
	require.Equal(t, []string{"905551110001", "5551110002"}, res.Destinations)
	require.Equal(t, 2, res.Accepted)
	require.Len(t, res.Rejected, 1)
	require.Equal(t, 4, res.Rejected[0].Row)
}

func TestReadCSVWithoutHeader(t *testing.T) {
	res, err := Read(strings.NewReader("905551110001\n905551110002\n\n"), FormatCSV)
	require.NoError(t, err)
	require.Equal(t, []string{"905551110001", "905551110002"}, res.Destinations)
}

func TestReadCSVSkipsUnknownHeader(t *testing.T) {
	res, err := Read(strings.NewReader("contacts\n905551110001\n"), FormatCSV)
	require.NoError(t, err)
	require.Equal(t, []string{"905551110001"}, res.Destinations)
	require.Empty(t, res.Rejected)
}

func TestReadEmpty(t *testing.T) {
	_, err := Read(strings.NewReader("phone\n"), FormatCSV)
	require.True(t, errors.Is(err, ErrEmpty))
}

func TestReadXLSX(t *testing.T) {
	xl := excelize.NewFile()
	sheet := xl.GetSheetName(0)
	require.NoError(t, xl.SetSheetRow(sheet, "A1", &[]string{"id", "Destination"}))
	require.NoError(t, xl.SetSheetRow(sheet, "A2", &[]string{"1", "905551110001"}))
	require.NoError(t, xl.SetSheetRow(sheet, "A3", &[]string{"2", "905551110002"}))
	var buf bytes.Buffer
	require.NoError(t, xl.Write(&buf))
	require.NoError(t, xl.Close())

	res, err := Read(&buf, FormatXLSX)
	require.NoError(t, err)
	require.Equal(t, []string{"905551110001", "905551110002"}, res.Destinations)
}

func TestFormatFromName(t *testing.T) {
	f, err := FormatFromName("list.XLSX")
	require.NoError(t, err)
	require.Equal(t, FormatXLSX, f)

	_, err = FormatFromName("list.pdf")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNormalize(t *testing.T) {
	for raw, want := range map[string]string{
		"+905551110001":   "905551110001",
		" 555.111.0002 ":  "5551110002",
		"(0212) 555-0003": "02125550003",
	} {
		got, ok := Normalize(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got)
	}
	for _, raw := range []string{"", "+", "12a", "1+2", strings.Repeat("1", 21)} {
		_, ok := Normalize(raw)
		require.False(t, ok, raw)
	}
}

func TestExportAttempts(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	attempts := []calls.Attempt{
		{ID: "a1", Destination: "905551110001", Status: calls.StatusCompleted, StartedAt: now, AnsweredAt: &now, DurationSeconds: 12, Signal: "1"},
	}
	failures := []campaigns.DispatchFailure{{Destination: "905551110002", Reason: "rejected", At: now}}

	out, err := ExportAttempts(campaigns.Campaign{ID: "c1", Name: "spring"}, attempts, failures)
	require.NoError(t, err)

	xl, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer xl.Close()

	rows, err := xl.GetRows("attempts")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "attempt_id", rows[0][0])
	require.Equal(t, "905551110001", rows[1][1])
	require.Equal(t, "completed", rows[1][2])

	frows, err := xl.GetRows("dispatch_failures")
	require.NoError(t, err)
	require.Len(t, frows, 2)
	require.Equal(t, "rejected", frows[1][1])
}
