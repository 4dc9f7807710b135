package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"empty blob", 0, "0 B"},
		{"short response", 512, "512 B"},
		{"small document", 1536, "1.5 KB"},
		{"block blob", 5242880, "5.0 MB"},
		{"share backup", 1610612736, "1.5 GB"},
		{"terabytes", 1099511627776, "1.0 TB"},
		{"kilobyte boundary", 1023, "1023 B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.UTC)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})
}

func TestPrintTable_AlignsRepositoryColumns(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"PATH", "TYPE", "AUTH", "USER"}
	rows := [][]string{
		{"file://nas/share", "Shared Folder", "CIFS", `CORP\alice`},
		{"https://contoso.sharepoint.com/sites/docs", "Sharepoint", "-", "-"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	// The second column starts at the same offset on every line.
	col := strings.Index(lines[0], "TYPE")
	assert.Equal(t, col, strings.Index(lines[1], "Shared Folder"))
	assert.Equal(t, col, strings.Index(lines[2], "Sharepoint"))
	assert.Contains(t, lines[1], `CORP\alice`)
}

func TestDashIfEmpty(t *testing.T) {
	assert.Equal(t, "-", dashIfEmpty(""))
	assert.Equal(t, "3f2c", dashIfEmpty("3f2c"))
}

func TestModifiedColumn(t *testing.T) {
	t.Run("store without timestamps", func(t *testing.T) {
		assert.Equal(t, "-", modifiedColumn(time.Time{}))
	})

	t.Run("session created", func(t *testing.T) {
		created := time.Date(2021, time.July, 4, 9, 15, 0, 0, time.UTC)
		assert.Equal(t, formatTime(created), modifiedColumn(created))
		assert.Contains(t, modifiedColumn(created), "2021")
	})
}
