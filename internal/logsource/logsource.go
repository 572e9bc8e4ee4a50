// Package logsource loads log sets: the fixtures compiled into the binary,
// files in a data directory, and logs uploaded inline by a client.
package logsource

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// InlineSource names log sets supplied directly in a request.
const InlineSource = "custom_logs"

// ErrNotFound is returned when no source holds the requested log set.
var ErrNotFound = errors.New("logsource: log set not found")

// LogSet is a log corpus and the changes recorded around it.
type LogSet struct {
	ID      string                 `json:"id" yaml:"id"`
	Source  string                 `json:"source" yaml:"-"`
	Logs    []protocol.LogEntry    `json:"logs" yaml:"logs"`
	Changes []protocol.ChangeEvent `json:"changes" yaml:"changes"`
}

// Last returns the final n logs of the set.
func (s *LogSet) Last(n int) []protocol.LogEntry {
	return protocol.LastLogs(s.Logs, n)
}

// Source loads log sets by ID.
type Source interface {
	Load(ctx context.Context, id string) (*LogSet, error)
	List(ctx context.Context) ([]string, error)
}

// Inline wraps logs uploaded by a client.
func Inline(logs []protocol.LogEntry) *LogSet {
	return &LogSet{ID: InlineSource, Source: InlineSource, Logs: protocol.CopyLogs(logs), Changes: []protocol.ChangeEvent{}}
}

// SourceName is the label a log set carries in sessions and summaries.
func SourceName(id string) string {
	return "log_set_" + id
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id can name a log set file.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

//go:embed sets/*.json
var fixtures embed.FS

// Embedded serves the log sets compiled into the binary.
type Embedded struct{}

func (Embedded) Load(_ context.Context, id string) (*LogSet, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	data, err := fixtures.ReadFile("sets/" + SourceName(id) + ".json")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	set, err := decode(data, ".json")
	if err != nil {
		return nil, fmt.Errorf("logsource: embedded %s: %w", id, err)
	}
	set.ID = id
	set.Source = SourceName(id)
	return set, nil
}

func (Embedded) List(context.Context) ([]string, error) {
	entries, err := fs.ReadDir(fixtures, "sets")
	if err != nil {
		return nil, fmt.Errorf("logsource: list embedded: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if id, ok := idFromFile(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

var extensions = []string{".json", ".yaml", ".yml"}

// Dir reads log_set_<id>.json, .yaml or .yml files from a directory.
type Dir struct {
	Path string
}

func (d Dir) Load(_ context.Context, id string) (*LogSet, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	for _, ext := range extensions {
		data, err := os.ReadFile(filepath.Join(d.Path, SourceName(id)+ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("logsource: read %s: %w", id, err)
		}
		set, err := decode(data, ext)
		if err != nil {
			return nil, fmt.Errorf("logsource: decode %s%s: %w", SourceName(id), ext, err)
		}
		set.ID = id
		set.Source = SourceName(id)
		return set, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (d Dir) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("logsource: list %s: %w", d.Path, err)
	}
	var ids []string
	for _, e := range entries {
		if id, ok := idFromFile(e.Name()); ok && !e.IsDir() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Save writes set as log_set_<id>.json, replacing any earlier version. The
// file is written to a temporary name first and renamed into place.
func (d Dir) Save(set *LogSet) error {
	if !ValidID(set.ID) {
		return fmt.Errorf("logsource: invalid log set id %q", set.ID)
	}
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("logsource: save: %w", err)
	}
	out := *set
	if out.Logs == nil {
		out.Logs = []protocol.LogEntry{}
	}
	if out.Changes == nil {
		out.Changes = []protocol.ChangeEvent{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("logsource: save: %w", err)
	}
	path := filepath.Join(d.Path, SourceName(set.ID)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("logsource: save: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("logsource: save: %w", err)
	}
	return nil
}

// Chain consults each source in order and returns the first hit.
type Chain []Source

func (c Chain) Load(ctx context.Context, id string) (*LogSet, error) {
	for _, s := range c {
		set, err := s.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return set, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (c Chain) List(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	for _, s := range c {
		got, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range got {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func decode(data []byte, ext string) (*LogSet, error) {
	var set LogSet
	var err error
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(&set)
	} else {
		err = yaml.Unmarshal(data, &set)
	}
	if err != nil {
		return nil, err
	}
	if set.Logs == nil {
		set.Logs = []protocol.LogEntry{}
	}
	if set.Changes == nil {
		set.Changes = []protocol.ChangeEvent{}
	}
	return &set, nil
}

func idFromFile(name string) (string, bool) {
	for _, ext := range extensions {
		if base, ok := strings.CutSuffix(name, ext); ok {
			id, ok := strings.CutPrefix(base, "log_set_")
			return id, ok && ValidID(id)
		}
	}
	return "", false
}
