package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open trail: %v", err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "trail.jsonl")

	trail, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer trail.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("trail file was not created")
	}
}

func TestTrail_RecordWritesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")
	trail, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer trail.Close()

	if err := trail.Record(ItemCompleted("123_45", "b1_i2", false, true)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := trail.Record(CriticalBypass("123_45", "b1_i2", "Ivanov")); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first.EventType != EventItemCompleted || first.Order != "123_45" || first.ItemID != "b1_i2" {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if first.Success == nil || *first.Success {
		t.Errorf("expected success=false, got %v", first.Success)
	}
	if first.EventID == "" {
		t.Error("event id should be set")
	}
	if first.PrevHash != "" {
		t.Errorf("first entry should have empty prev_hash, got %q", first.PrevHash)
	}
	if entries[1].PrevHash != first.Hash {
		t.Error("second entry should link to the first")
	}
	if entries[1].Actor != "Ivanov" {
		t.Errorf("actor: got %q", entries[1].Actor)
	}
}

func TestTrail_ConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")
	trail, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := trail.Record(PINAttempt("admin", j%2 == 0, false)); err != nil {
					t.Errorf("Record: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	trail.Close()

	report, err := Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Total != 100 || !report.OK() {
		t.Errorf("expected 100 intact entries, got %+v", report)
	}
}

func TestTrail_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trail.jsonl")
	trail, err := Open(path, 600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer trail.Close()

	for i := 0; i < 10; i++ {
		if err := trail.Record(ReportCreated("123_45", "report.pdf", i+1)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	archived, err := os.ReadDir(filepath.Join(dir, ArchiveDir))
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(archived) == 0 {
		t.Fatal("expected at least one archived file")
	}
	for _, a := range archived {
		if !strings.HasPrefix(a.Name(), "trail.") || !strings.HasSuffix(a.Name(), TrailFileExtension) {
			t.Errorf("unexpected archive name %s", a.Name())
		}
	}

	// The live file continues the chain from the last archived entry.
	live := readEntries(t, path)
	if len(live) == 0 {
		t.Fatal("live trail is empty")
	}
	if live[0].PrevHash == "" {
		t.Error("chain should continue across rotation")
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")
	trail, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, order := range []string{"1_1", "2_2", "3_3"} {
		if err := trail.Record(SessionStart(order)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	trail.Close()

	report, err := Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.OK() || report.Valid != 3 {
		t.Fatalf("untouched trail should verify, got %+v", report)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"order":"2_2"`, `"order":"9_9"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0644); err != nil {
		t.Fatal(err)
	}

	report, err = Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.OK() {
		t.Error("tampered trail should not verify")
	}
	if report.Valid != 2 {
		t.Errorf("expected 2 valid entries, got %d", report.Valid)
	}
}

func TestOpen_ResumesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")

	trail, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := trail.Record(SessionStart("1_1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	trail.Close()

	reopened, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.Record(SessionEnd("1_1", true)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	reopened.Close()

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].PrevHash != entries[0].Hash {
		t.Error("reopened trail should link to the existing tail")
	}
	report, err := Verify(path)
	if err != nil || !report.OK() {
		t.Errorf("Verify after reopen: %+v, %v", report, err)
	}
}

func TestTrail_RecordAfterClose(t *testing.T) {
	trail, err := Open(filepath.Join(t.TempDir(), "trail.jsonl"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	trail.Close()
	if err := trail.Record(PINsChanged()); err == nil {
		t.Error("expected error after close")
	}
}

func TestMemory_Count(t *testing.T) {
	m := NewMemory()
	_ = m.Record(PINAttempt("master", false, false))
	_ = m.Record(PINAttempt("master", false, true))
	_ = m.Record(EmailFailed("1_1", []string{"a@b.c"}, errors.New("dial")))

	if got := m.Count(EventPINAttempt); got != 2 {
		t.Errorf("pin attempts: got %d", got)
	}
	entries := m.Entries()
	if locked, _ := entries[1].Details["locked"].(bool); !locked {
		t.Error("locked attempt should carry locked detail")
	}
}
