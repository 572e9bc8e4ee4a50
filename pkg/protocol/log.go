package protocol

// Level is the severity level of a log line.
type Level string

const (
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
	LevelInfo  Level = "INFO"
	LevelDebug Level = "DEBUG"
)

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		return true
	}
	return false
}

// LogEntry is a single production log line. Entries have no identity field;
// two entries are the same entry iff every field is equal, which is exactly
// Go's == on this struct.
type LogEntry struct {
	Time      string `json:"time" yaml:"time"`
	Service   string `json:"service" yaml:"service"`
	Level     Level  `json:"level" yaml:"level"`
	Message   string `json:"msg" yaml:"msg"`
	RequestID string `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	UserID    string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	BatchID   string `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	SourceID  string `json:"source_id,omitempty" yaml:"source_id,omitempty"`
}

// ChangeEvent is a deployment, config change, migration or similar system
// change supplied alongside a log set.
type ChangeEvent struct {
	Timestamp     string   `json:"timestamp" yaml:"timestamp"`
	Type          string   `json:"type" yaml:"type"`
	Description   string   `json:"description" yaml:"description"`
	FilesAffected []string `json:"filesAffected" yaml:"filesAffected"`
}

// CopyLogs returns an independent copy of logs. A nil input yields an empty,
// non-nil slice so the result always serializes as a JSON array.
func CopyLogs(logs []LogEntry) []LogEntry {
	out := make([]LogEntry, len(logs))
	copy(out, logs)
	return out
}

// LastLogs returns a copy of the final n entries of logs.
func LastLogs(logs []LogEntry, n int) []LogEntry {
	if n < len(logs) {
		logs = logs[len(logs)-n:]
	}
	return CopyLogs(logs)
}
