// Package artifacts writes the run's CSV outputs: the execution plan
// consumed by downstream order submission, and the full scan matrix that
// records every analyzed ticker with its accept/reject reason.
package artifacts

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"

	"github.com/alphaledger/signalrun/internal/atomicio"
)

// WriteCSV writes header plus rows atomically to path.
func WriteCSV(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if err := atomicio.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// PlanPath returns the execution-plan path for a run date.
func PlanPath(dir, date string) string {
	return filepath.Join(dir, fmt.Sprintf("execution-plan-%s.csv", date))
}

// ScanMatrixPath returns the full-scan-matrix path for a run date.
func ScanMatrixPath(dir, date string) string {
	return filepath.Join(dir, fmt.Sprintf("scan-matrix-%s.csv", date))
}
