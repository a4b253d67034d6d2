// Package manifest reads and rewrites the tabular file that drives a batch
// transcription run. Every input column is passed through untouched; the only
// columns this package ever writes are the trailing transcription and
// duration columns it appends itself.
package manifest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// Names of the columns appended to the output manifest.
const (
	TranscriptionColumn = "transcription"
	DurationColumn      = "duration"
)

// Manifest is an ordered set of rows loaded wholesale into memory.
type Manifest struct {
	header []string
	rows   [][]string

	// appended result cells, aligned with rows; empty until set
	transcriptions []string
	durations      []string
}

// Load reads the CSV at path. If the file already ends with the two appended
// columns from a previous run, those cells are detached so a re-run
// overwrites them instead of stacking new columns.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("manifest %s is empty", path)
	}

	m := &Manifest{header: records[0], rows: records[1:]}
	m.transcriptions = make([]string, len(m.rows))
	m.durations = make([]string, len(m.rows))

	if n := len(m.header); n >= 2 &&
		m.header[n-2] == TranscriptionColumn && m.header[n-1] == DurationColumn {
		m.header = m.header[:n-2]
		for i, row := range m.rows {
			if len(row) >= n {
				m.transcriptions[i] = row[n-2]
				m.durations[i] = row[n-1]
				m.rows[i] = row[:n-2]
			}
		}
	}
	return m, nil
}

// Len returns the number of data rows.
func (m *Manifest) Len() int { return len(m.rows) }

// Header returns the passthrough column names, without the appended pair.
func (m *Manifest) Header() []string { return m.header }

// FileRef returns the file reference of row i (the first column).
func (m *Manifest) FileRef(i int) string {
	if len(m.rows[i]) == 0 {
		return ""
	}
	return m.rows[i][0]
}

// FileRefs returns every row's file reference in row order.
func (m *Manifest) FileRefs() []string {
	refs := make([]string, len(m.rows))
	for i := range m.rows {
		refs[i] = m.FileRef(i)
	}
	return refs
}

// Value returns the cell of row i under the named passthrough column, or ""
// when the column does not exist.
func (m *Manifest) Value(i int, column string) string {
	for c, name := range m.header {
		if name == column && c < len(m.rows[i]) {
			return m.rows[i][c]
		}
	}
	return ""
}

// SetResult fills the appended cells of row i.
func (m *Manifest) SetResult(i int, transcription, duration string) {
	m.transcriptions[i] = transcription
	m.durations[i] = duration
}

// Result returns the appended cells of row i.
func (m *Manifest) Result(i int) (transcription, duration string) {
	return m.transcriptions[i], m.durations[i]
}

// Write serializes the manifest to path: original rows in original order with
// the two appended columns. The file is written to a temporary sibling first
// and renamed into place so a failed run never truncates the input.
func (m *Manifest) Write(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}

	w := csv.NewWriter(f)
	header := append(append([]string{}, m.header...), TranscriptionColumn, DurationColumn)
	if err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write manifest header: %w", err)
	}
	for i, row := range m.rows {
		out := append(append([]string{}, row...), m.transcriptions[i], m.durations[i])
		if err := w.Write(out); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write manifest row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// CheckAudioFiles verifies that every file reference resolves to an existing
// file under audioDir. The returned error lists what is missing.
func (m *Manifest) CheckAudioFiles(audioDir string) error {
	var missing []string
	for i := range m.rows {
		ref := m.FileRef(i)
		if ref == "" {
			missing = append(missing, fmt.Sprintf("row %d: empty file reference", i+1))
			continue
		}
		p := filepath.Join(audioDir, filepath.Base(ref))
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, filepath.Base(ref))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing audio files in %s: %v", audioDir, missing)
	}
	return nil
}
