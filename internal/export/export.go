// Package export renders buffered packet records into files derived from
// the native capture file.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"livecap/internal/models"
)

// Supported derived formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// csvHeader is the fixed CSV column set.
var csvHeader = []string{"Number", "Timestamp", "Source", "Destination", "Protocol", "Length", "Info"}

// timestampLayout is ISO-8601 in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Normalize lowercases and trims a requested format.
func Normalize(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}

// IsDerived reports whether format produces a derived file.
func IsDerived(format string) bool {
	switch Normalize(format) {
	case FormatJSON, FormatCSV:
		return true
	}
	return false
}

// JSON writes the records as an indented JSON array.
func JSON(w io.Writer, pkts []models.PacketRecord) error {
	if pkts == nil {
		pkts = []models.PacketRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(pkts)
}

// CSV writes a header line and one row per record, joined by newlines and
// without a trailing newline. Only the Info column is quoted; embedded commas
// and quotes are not escaped.
func CSV(w io.Writer, pkts []models.PacketRecord) error {
	rows := make([]string, 0, len(pkts)+1)
	rows = append(rows, strings.Join(csvHeader, ","))
	for _, p := range pkts {
		rows = append(rows, strings.Join([]string{
			strconv.Itoa(p.Number),
			FormatTimestamp(p.Timestamp),
			p.Source,
			p.Destination,
			p.Protocol,
			strconv.Itoa(p.Length),
			`"` + p.Info + `"`,
		}, ","))
	}
	_, err := io.WriteString(w, strings.Join(rows, "\n"))
	return err
}

// Path derives the export file path by replacing the extension of the
// capture file with format.
func Path(captureFile, format string) string {
	ext := filepath.Ext(captureFile)
	return strings.TrimSuffix(captureFile, ext) + "." + format
}

// Write exports pkts next to captureFile. For json and csv it writes the
// derived file and returns its path. Any other format is passed through:
// the capture file path is returned unchanged, native is true and nothing
// is written.
func Write(captureFile, format string, pkts []models.PacketRecord) (path string, native bool, err error) {
	format = Normalize(format)
	var encode func(io.Writer, []models.PacketRecord) error
	switch format {
	case FormatJSON:
		encode = JSON
	case FormatCSV:
		encode = CSV
	default:
		return captureFile, true, nil
	}

	path = Path(captureFile, format)
	if err := writeFile(path, pkts, encode); err != nil {
		return "", false, fmt.Errorf("export %s: %w", format, err)
	}
	return path, false, nil
}

// writeFile encodes into a temporary file and renames it into place so
// readers never observe a half-written export.
func writeFile(path string, pkts []models.PacketRecord, encode func(io.Writer, []models.PacketRecord) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, pkts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// FormatTimestamp renders t the way exports do.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
