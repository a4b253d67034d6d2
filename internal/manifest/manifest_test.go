package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCSV = `filename,text,up_votes,down_votes,age,gender,accent,duration
cv-valid-dev/sample-000000.mp3,be careful with your prognostications,1,0,,,,
cv-valid-dev/sample-000001.mp3,then why should they be surprised,2,0,twenties,male,us,
cv-valid-dev/sample-000002.mp3,a young arab also loaded down,1,0,,,,
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cv-valid-dev.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRowsAndRefs(t *testing.T) {
	m, err := Load(writeTemp(t, sampleCSV))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}
	if got := m.FileRef(1); got != "cv-valid-dev/sample-000001.mp3" {
		t.Errorf("FileRef(1) = %q", got)
	}
	if got := m.Value(1, "age"); got != "twenties" {
		t.Errorf("Value(1, age) = %q", got)
	}
	if got := m.Value(1, "no_such_column"); got != "" {
		t.Errorf("Value for unknown column = %q, want empty", got)
	}
}

func TestWritePreservesOrderAndColumns(t *testing.T) {
	path := writeTemp(t, sampleCSV)
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m.SetResult(0, "be careful", "2.50")
	m.SetResult(2, "Error: 500", "Error: 500")

	if err := m.Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("output has %d lines, want 4", len(lines))
	}
	if lines[0] != "filename,text,up_votes,down_votes,age,gender,accent,duration,transcription,duration" {
		t.Errorf("header = %q", lines[0])
	}
	// untouched columns byte-identical, appended cells at the end
	if !strings.HasPrefix(lines[1], "cv-valid-dev/sample-000000.mp3,be careful with your prognostications,1,0,,,,") {
		t.Errorf("row 1 passthrough changed: %q", lines[1])
	}
	if !strings.HasSuffix(lines[1], ",be careful,2.50") {
		t.Errorf("row 1 results missing: %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",,") {
		t.Errorf("row 2 should have empty result cells: %q", lines[2])
	}
	if !strings.HasSuffix(lines[3], ",Error: 500,Error: 500") {
		t.Errorf("row 3 sentinel missing: %q", lines[3])
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Write")
	}
}

func TestReloadOverwritesAppendedColumns(t *testing.T) {
	path := writeTemp(t, sampleCSV)
	m, _ := Load(path)
	for i := 0; i < m.Len(); i++ {
		m.SetResult(i, "first pass", "1.00")
	}
	if err := m.Write(path); err != nil {
		t.Fatal(err)
	}

	// a second run must see the original column set and overwrite, not stack
	m2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(m2.Header()); got != 8 {
		t.Fatalf("header after reload has %d columns, want 8", got)
	}
	tr, du := m2.Result(0)
	if tr != "first pass" || du != "1.00" {
		t.Errorf("previous results not detached: %q %q", tr, du)
	}
	m2.SetResult(0, "second pass", "2.00")
	if err := m2.Write(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	header := strings.SplitN(string(data), "\n", 2)[0]
	if strings.Count(header, "transcription") != 1 {
		t.Errorf("appended columns duplicated: %q", header)
	}
}

func TestCheckAudioFiles(t *testing.T) {
	path := writeTemp(t, sampleCSV)
	m, _ := Load(path)

	dir := t.TempDir()
	for _, name := range []string{"sample-000000.mp3", "sample-000001.mp3"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	err := m.CheckAudioFiles(dir)
	if err == nil {
		t.Fatal("expected missing file error")
	}
	if !strings.Contains(err.Error(), "sample-000002.mp3") {
		t.Errorf("error should name the missing file: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "sample-000002.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.CheckAudioFiles(dir); err != nil {
		t.Errorf("unexpected error once all files exist: %v", err)
	}
}

func TestLoadEmpty(t *testing.T) {
	if _, err := Load(writeTemp(t, "")); err == nil {
		t.Fatal("expected error for empty manifest")
	}
}
