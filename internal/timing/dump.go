package timing

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the encoding of the JSON report.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression validates a compression name. The empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd:
		return Compression(s), nil
	}
	return "", fmt.Errorf("unknown compression %q", s)
}

func (c Compression) extension() string {
	switch c {
	case CompressionGzip:
		return ".json.gz"
	case CompressionZstd:
		return ".json.zst"
	}
	return ".json"
}

// Dump writes <basename>.csv and the JSON report next to it, returning the
// written paths.
func Dump(report *Report, basename string, compression Compression) ([]string, error) {
	if report == nil {
		return nil, fmt.Errorf("dump timers: nil report")
	}
	csvPath := basename + ".csv"
	if err := writeFile(csvPath, func(w io.Writer) error { return WriteCSV(w, report) }); err != nil {
		return nil, err
	}
	jsonPath := basename + compression.extension()
	if err := writeFile(jsonPath, func(w io.Writer) error { return WriteJSON(w, report, compression) }); err != nil {
		return nil, err
	}
	return []string{csvPath, jsonPath}, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

// WriteCSV writes one row per timer.
func WriteCSV(w io.Writer, report *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"name", "ranks", "calls", "min", "max", "mean", "median"}); err != nil {
		return err
	}
	for _, a := range report.Timers {
		row := []string{
			a.Name,
			strconv.Itoa(a.Ranks),
			strconv.Itoa(a.Calls),
			formatSeconds(a.Min),
			formatSeconds(a.Max),
			formatSeconds(a.Mean),
			formatSeconds(a.Median),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 6, 64)
}

// WriteJSON encodes report, compressing it as requested.
func WriteJSON(w io.Writer, report *Report, compression Compression) error {
	body, err := sonic.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	switch compression {
	case CompressionGzip:
		zw := gzip.NewWriter(w)
		if _, err := zw.Write(body); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if _, err := zw.Write(body); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	default:
		_, err := w.Write(body)
		return err
	}
}
