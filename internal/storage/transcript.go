// Package storage persists session transcripts as one JSON file per
// session under <base>/<bot_id>/.
package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Roles recorded in a transcript.
const (
	RoleMetadata = "metadata"
	RoleUser     = "user"
	RoleAgent    = "agent"
	RoleTool     = "tool"
)

// Entry is one transcript line.
type Entry struct {
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Sequence  int    `json:"sequence,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Info summarizes one stored transcript.
type Info struct {
	UID         string `json:"uid"`
	LatestEntry Entry  `json:"latest_entry"`
	Timestamp   string `json:"timestamp"`
}

var (
	// ErrInvalidName reports a bot id or transcript uid unsafe for a path.
	ErrInvalidName = errors.New("storage: invalid name")
	// ErrNoBaseDir reports an empty transcript directory.
	ErrNoBaseDir = errors.New("storage: transcript dir is empty")
)

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Transcript appends entries for one session. Every Append rewrites the
// file so a crash loses at most the entry in flight.
type Transcript struct {
	mu      sync.Mutex
	uid     string
	path    string
	now     func() time.Time
	entries []Entry
}

// Create starts a new transcript for botID.
func Create(baseDir, botID string) (*Transcript, error) {
	dir, err := ensureBotDir(baseDir, botID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	uid := now.Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	t := &Transcript{
		uid:     uid,
		path:    filepath.Join(dir, uid+".json"),
		now:     time.Now,
		entries: []Entry{{Role: RoleMetadata, Timestamp: now.Format(time.RFC3339), UserID: botID}},
	}
	if err := writeEntries(t.path, t.entries); err != nil {
		return nil, err
	}
	return t, nil
}

// UID identifies the transcript within its bot directory.
func (t *Transcript) UID() string { return t.uid }

// Append stamps e with the current time when it has none and persists it.
func (t *Transcript) Append(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.Timestamp == "" {
		e.Timestamp = t.now().Format(time.RFC3339Nano)
	}
	t.entries = append(t.entries, e)
	return writeEntries(t.path, t.entries)
}

// Len counts entries excluding metadata.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries) - 1
}

// Get returns the entries of a stored transcript, without metadata.
func Get(baseDir, botID, uid string) ([]Entry, error) {
	path, err := transcriptPath(baseDir, botID, uid)
	if err != nil {
		return nil, err
	}
	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}
	filtered := []Entry{}
	for _, e := range entries {
		if e.Role == RoleMetadata {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

// Delete removes a stored transcript and reports whether it existed.
func Delete(baseDir, botID, uid string) bool {
	path, err := transcriptPath(baseDir, botID, uid)
	if err != nil {
		return false
	}
	return os.Remove(path) == nil
}

// List returns the non-empty transcripts of botID, newest first.
func List(baseDir, botID string) []Info {
	list := []Info{}
	if baseDir == "" || !safeNamePattern.MatchString(botID) {
		return list
	}
	dir := filepath.Join(baseDir, botID)
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return list
	}
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		entries, err := readEntries(filepath.Join(dir, de.Name()))
		if err != nil {
			continue
		}
		if len(entries) == 0 || entries[len(entries)-1].Role == RoleMetadata {
			continue
		}
		last := entries[len(entries)-1]
		list = append(list, Info{
			UID:         strings.TrimSuffix(de.Name(), ".json"),
			LatestEntry: last,
			Timestamp:   last.Timestamp,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})
	return list
}

func ensureBotDir(baseDir, botID string) (string, error) {
	if baseDir == "" {
		return "", ErrNoBaseDir
	}
	if !safeNamePattern.MatchString(botID) {
		return "", ErrInvalidName
	}
	path := filepath.Join(baseDir, botID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func transcriptPath(baseDir, botID, uid string) (string, error) {
	if baseDir == "" {
		return "", ErrNoBaseDir
	}
	if !safeNamePattern.MatchString(botID) || !safeNamePattern.MatchString(uid) {
		return "", ErrInvalidName
	}
	return filepath.Join(baseDir, botID, uid+".json"), nil
}

func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeEntries(path string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
