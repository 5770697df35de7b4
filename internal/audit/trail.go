package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxTrailSize = 10 * 1024 * 1024
	TrailFileExtension  = ".jsonl"
	ArchiveDir          = "archive"
)

// Entry is one line of the trail.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventID   string         `json:"event_id"`
	EventType EventType      `json:"event_type"`
	Order     string         `json:"order,omitempty"`
	ItemID    string         `json:"item_id,omitempty"`
	Role      string         `json:"role,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

func entryFromEvent(e Event, ts time.Time) Entry {
	return Entry{
		Timestamp: ts,
		EventID:   uuid.NewString(),
		EventType: e.Type,
		Order:     e.Order,
		ItemID:    e.ItemID,
		Role:      e.Role,
		Actor:     e.Actor,
		Success:   e.Success,
		Details:   e.Details,
	}
}

// computeHash covers every field except Hash itself.
func computeHash(e Entry) (string, error) {
	e.Hash = ""
	payload, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte{'|'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Trail is an append-only JSONL file. Each entry carries the hash of its
// predecessor, and the chain continues across rotations.
type Trail struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	path            string
	lastHash        string
	rotationCounter int
	now             func() time.Time
}

// Open opens or creates the trail at path. The chain resumes from the last
// well-formed entry already in the file.
func Open(path string, maxSize int64) (*Trail, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxTrailSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	t := &Trail{
		path:    path,
		maxSize: maxSize,
		now:     func() time.Time { return time.Now().UTC() },
	}
	last, err := lastHash(path)
	if err != nil {
		return nil, err
	}
	t.lastHash = last
	if err := t.openFile(); err != nil {
		return nil, err
	}
	return t, nil
}

func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open audit trail: %w", err)
	}
	defer f.Close()

	last := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 5*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Hash != "" {
			last = e.Hash
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan audit trail: %w", err)
	}
	return last, nil
}

func (t *Trail) openFile() error {
	file, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit trail: %w", err)
	}
	t.file = file
	t.currentSize = stat.Size()
	return nil
}

// Record implements Recorder.
func (t *Trail) Record(e Event) error {
	entry := entryFromEvent(e, t.now())
	return t.append(&entry)
}

func (t *Trail) append(entry *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return fmt.Errorf("audit trail closed")
	}

	entry.PrevHash = t.lastHash
	hash, err := computeHash(*entry)
	if err != nil {
		return fmt.Errorf("hash audit entry: %w", err)
	}
	entry.Hash = hash

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	if t.currentSize > 0 && t.currentSize+int64(len(data)) > t.maxSize {
		if err := t.rotate(); err != nil {
			return fmt.Errorf("rotate audit trail: %w", err)
		}
	}

	n, err := t.file.Write(data)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("sync audit trail: %w", err)
	}
	t.currentSize += int64(n)
	t.lastHash = hash
	return nil
}

func (t *Trail) rotate() error {
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("close current trail: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(t.path), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	t.rotationCounter++
	base := strings.TrimSuffix(filepath.Base(t.path), TrailFileExtension)
	archiveName := fmt.Sprintf("%s.%s.%d%s", base, t.now().Format("20060102_150405"), t.rotationCounter, TrailFileExtension)
	if err := os.Rename(t.path, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("archive trail: %w", err)
	}
	return t.openFile()
}

// Path returns the live trail file.
func (t *Trail) Path() string {
	return t.path
}

func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	err := t.file.Sync()
	if cerr := t.file.Close(); err == nil {
		err = cerr
	}
	t.file = nil
	return err
}

// VerifyReport summarizes a chain check of one trail file.
type VerifyReport struct {
	Total    int
	Valid    int
	Broken   []string
	LastHash string
}

func (r VerifyReport) OK() bool {
	return len(r.Broken) == 0 && r.Total == r.Valid
}

// Verify re-computes every entry hash and checks the links between
// consecutive entries. The first entry of a rotated file links to the
// archive before it, so its PrevHash is accepted as is.
func Verify(path string) (VerifyReport, error) {
	var report VerifyReport
	f, err := os.Open(path)
	if err != nil {
		return report, fmt.Errorf("open audit trail: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 5*1024*1024)
	line := 0
	expectedPrev := ""
	first := true
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		report.Total++
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			report.Broken = append(report.Broken, fmt.Sprintf("line %d: decode: %v", line, err))
			continue
		}
		ok := true
		if !first && e.PrevHash != expectedPrev {
			report.Broken = append(report.Broken, fmt.Sprintf("line %d: prev_hash mismatch", line))
			ok = false
		}
		computed, err := computeHash(e)
		if err != nil || computed != e.Hash {
			report.Broken = append(report.Broken, fmt.Sprintf("line %d: hash mismatch", line))
			ok = false
		}
		if ok {
			report.Valid++
		}
		first = false
		expectedPrev = e.Hash
		report.LastHash = e.Hash
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("scan audit trail: %w", err)
	}
	return report, nil
}
