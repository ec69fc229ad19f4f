// Package storage persists each tenant's transcript and derived artifacts
// under <root>/<tenant>/.
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"live-transcription-service/internal/models"
)

// File names inside a tenant directory.
const (
	TranscriptFile     = "live_transcription.txt"
	QAFile             = "questions_answers.json"
	ActionItemsFile    = "action_items.json"
	MeetingMinutesFile = "meeting_minutes.json"
	lockFile           = ".session.lock"
)

var (
	// ErrLocked is returned when another process holds the tenant lock.
	ErrLocked = errors.New("tenant directory locked by another process")
	// ErrInvalidTenant is returned for tenant ids that are not a single path element.
	ErrInvalidTenant = errors.New("invalid tenant id")
	// ErrNotFound is returned when a tenant has no persisted artifact.
	ErrNotFound = errors.New("artifact not found")
)

// Store is a file-backed artifact store rooted at a data directory.
type Store struct {
	root string
}

// New creates the data directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{root: root}, nil
}

// ValidTenant reports whether id can name a tenant directory.
func ValidTenant(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.ContainsRune(id, 0)
}

// Dir returns the tenant directory.
func (s *Store) Dir(tenantId string) string {
	return filepath.Join(s.root, tenantId)
}

func (s *Store) path(tenantId, name string) (string, error) {
	if !ValidTenant(tenantId) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, tenantId)
	}
	return filepath.Join(s.root, tenantId, name), nil
}

// Lock takes the cross-process run lock of a tenant. The returned func releases it.
func (s *Store) Lock(tenantId string) (func() error, error) {
	p, err := s.path(tenantId, lockFile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("create tenant dir: %w", err)
	}
	fl := flock.New(p)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock tenant %s: %w", tenantId, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return fl.Unlock, nil
}

// Reset empties all four artifacts of a tenant.
func (s *Store) Reset(tenantId string) error {
	p, err := s.path(tenantId, TranscriptFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create tenant dir: %w", err)
	}
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		return fmt.Errorf("reset transcript: %w", err)
	}
	if err := s.WriteQA(tenantId, []models.QAEntry{}); err != nil {
		return err
	}
	if err := s.WriteActionItems(tenantId, ""); err != nil {
		return err
	}
	return s.WriteMeetingMinutes(tenantId, "")
}

// AppendTranscriptLine appends one formatted line to the transcript log.
func (s *Store) AppendTranscriptLine(tenantId, line string) error {
	p, err := s.path(tenantId, TranscriptFile)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Close()
}

// WriteQA replaces the question/answer file.
func (s *Store) WriteQA(tenantId string, entries []models.QAEntry) error {
	if entries == nil {
		entries = []models.QAEntry{}
	}
	return s.writeJSON(tenantId, QAFile, entries)
}

// WriteActionItems replaces the action items file.
func (s *Store) WriteActionItems(tenantId, text string) error {
	return s.writeJSON(tenantId, ActionItemsFile, models.ActionItems{ActionItems: text})
}

// WriteMeetingMinutes replaces the meeting minutes file.
func (s *Store) WriteMeetingMinutes(tenantId, text string) error {
	return s.writeJSON(tenantId, MeetingMinutesFile, models.MeetingMinutes{MeetingMinutes: text})
}

// ReadTranscript returns the persisted transcript lines.
func (s *Store) ReadTranscript(tenantId string) ([]string, error) {
	p, err := s.path(tenantId, TranscriptFile)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	lines := []string{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return lines, nil
}

// ReadQA returns the persisted question/answer entries, newest first.
func (s *Store) ReadQA(tenantId string) ([]models.QAEntry, error) {
	var entries []models.QAEntry
	if err := s.readJSON(tenantId, QAFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadActionItems returns the persisted action items text.
func (s *Store) ReadActionItems(tenantId string) (string, error) {
	var v models.ActionItems
	if err := s.readJSON(tenantId, ActionItemsFile, &v); err != nil {
		return "", err
	}
	return v.ActionItems, nil
}

// ReadMeetingMinutes returns the persisted meeting minutes text.
func (s *Store) ReadMeetingMinutes(tenantId string) (string, error) {
	var v models.MeetingMinutes
	if err := s.readJSON(tenantId, MeetingMinutesFile, &v); err != nil {
		return "", err
	}
	return v.MeetingMinutes, nil
}

// writeJSON replaces a file atomically via a temp file in the same directory.
func (s *Store) writeJSON(tenantId, name string, v any) error {
	p, err := s.path(tenantId, name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tenant dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (s *Store) readJSON(tenantId, name string, v any) error {
	p, err := s.path(tenantId, name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
