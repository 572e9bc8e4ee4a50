// Package search implements flat and multi-hop searches over a log corpus.
// Every function here is pure: the corpus is never modified and results are
// fresh slices.
package search

import (
	"strings"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Identifier prefixes used in Result.RelatedIdentifiers.
const (
	PrefixRequest = "req:"
	PrefixUser    = "usr:"
	PrefixBatch   = "bat:"
	PrefixSource  = "src:"
)

// Criteria constrains a search. Zero-valued fields impose no constraint.
type Criteria struct {
	RequestID      string         `json:"requestId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	BatchID        string         `json:"batchId,omitempty"`
	SourceID       string         `json:"sourceId,omitempty"`
	Service        string         `json:"service,omitempty"`
	Level          protocol.Level `json:"level,omitempty"`
	Keyword        string         `json:"keyword,omitempty"`
	TimeRangeStart string         `json:"timeRangeStart,omitempty"`
	TimeRangeEnd   string         `json:"timeRangeEnd,omitempty"`
	// Recursive enables batch → user → source expansion. It only has an
	// effect together with BatchID.
	Recursive bool `json:"recursive,omitempty"`
}

// Result is the outcome of a search.
type Result struct {
	Matches            []protocol.LogEntry `json:"logs"`
	RelatedIdentifiers []string            `json:"relatedIdentifiers"`
}

// Match reports whether e satisfies every criterion present in c. Time bounds
// are inclusive and compared lexically.
func Match(e protocol.LogEntry, c Criteria) bool {
	if c.RequestID != "" && e.RequestID != c.RequestID {
		return false
	}
	if c.UserID != "" && e.UserID != c.UserID {
		return false
	}
	if c.BatchID != "" && e.BatchID != c.BatchID {
		return false
	}
	if c.SourceID != "" && e.SourceID != c.SourceID {
		return false
	}
	if c.Service != "" && e.Service != c.Service {
		return false
	}
	if c.Level != "" && e.Level != c.Level {
		return false
	}
	if c.Keyword != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(c.Keyword)) {
		return false
	}
	if c.TimeRangeStart != "" && e.Time < c.TimeRangeStart {
		return false
	}
	if c.TimeRangeEnd != "" && e.Time > c.TimeRangeEnd {
		return false
	}
	return true
}

// Search runs a flat match over corpus and, when c.Recursive is set with a
// BatchID, unions in the multi-hop expansion. Matches keep corpus order within
// each hop and contain no structural duplicates.
func Search(corpus []protocol.LogEntry, c Criteria) Result {
	acc := newAccumulator()
	for _, e := range corpus {
		if Match(e, c) {
			acc.add(e)
		}
	}

	if c.Recursive && c.BatchID != "" {
		for _, e := range expand(corpus, c.BatchID) {
			acc.add(e)
		}
	}

	return Result{
		Matches:            acc.logs,
		RelatedIdentifiers: acc.identifiers(),
	}
}

// expand follows correlation keys out from a batch: every log of the batch,
// then every log of each user seen in the batch, then every log of each source
// seen in either of those hops.
func expand(corpus []protocol.LogEntry, batchID string) []protocol.LogEntry {
	var found []protocol.LogEntry

	users := newOrderedSet()
	for _, e := range corpus {
		if e.BatchID == batchID {
			found = append(found, e)
			if e.UserID != "" {
				users.add(e.UserID)
			}
		}
	}

	for _, user := range users.items {
		for _, e := range corpus {
			if e.UserID == user {
				found = append(found, e)
			}
		}
	}

	sources := newOrderedSet()
	for _, e := range found {
		if e.SourceID != "" {
			sources.add(e.SourceID)
		}
	}
	for _, source := range sources.items {
		for _, e := range corpus {
			if e.SourceID == source {
				found = append(found, e)
			}
		}
	}

	return Dedupe(found)
}

// Dedupe removes structurally equal entries, keeping the first occurrence.
func Dedupe(logs []protocol.LogEntry) []protocol.LogEntry {
	seen := make(map[protocol.LogEntry]struct{}, len(logs))
	out := make([]protocol.LogEntry, 0, len(logs))
	for _, e := range logs {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// ExtractErrorContext returns up to window entries either side of target's
// position in corpus, clipped at the corpus edges. If target is not in the
// corpus the result holds target alone.
func ExtractErrorContext(corpus []protocol.LogEntry, target protocol.LogEntry, window int) []protocol.LogEntry {
	idx := -1
	for i, e := range corpus {
		if e == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return []protocol.LogEntry{target}
	}
	if window < 0 {
		window = 0
	}
	start := max(0, idx-window)
	end := min(len(corpus), idx+window+1)
	return protocol.CopyLogs(corpus[start:end])
}

// Identifiers returns the prefixed correlation keys carried by e.
func Identifiers(e protocol.LogEntry) []string {
	var ids []string
	if e.RequestID != "" {
		ids = append(ids, PrefixRequest+e.RequestID)
	}
	if e.UserID != "" {
		ids = append(ids, PrefixUser+e.UserID)
	}
	if e.BatchID != "" {
		ids = append(ids, PrefixBatch+e.BatchID)
	}
	if e.SourceID != "" {
		ids = append(ids, PrefixSource+e.SourceID)
	}
	return ids
}

type accumulator struct {
	logs []protocol.LogEntry
	seen map[protocol.LogEntry]struct{}
	ids  *orderedSet
}

func newAccumulator() *accumulator {
	return &accumulator{
		logs: []protocol.LogEntry{},
		seen: make(map[protocol.LogEntry]struct{}),
		ids:  newOrderedSet(),
	}
}

func (a *accumulator) add(e protocol.LogEntry) {
	if _, ok := a.seen[e]; ok {
		return
	}
	a.seen[e] = struct{}{}
	a.logs = append(a.logs, e)
	for _, id := range Identifiers(e) {
		a.ids.add(id)
	}
}

func (a *accumulator) identifiers() []string {
	return append([]string{}, a.ids.items...)
}

type orderedSet struct {
	items []string
	index map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.index[v]; ok {
		return
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
}
