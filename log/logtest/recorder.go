/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"sync"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-throttle/log"
)

// RecordedEntry is a logging entry captured by Recorder.
// Fields contain both the entry's own fields and the ones bound with With.
type RecordedEntry struct {
	LoggerName string
	Fields     []log.Field
	Level      log.Level
	Time       time.Time
	Text       string
}

// FindField returns the first field with the key.
func (re RecordedEntry) FindField(key string) (*log.Field, bool) {
	for i := range re.Fields {
		if re.Fields[i].Key == key {
			return &re.Fields[i], true
		}
	}
	return nil, false
}

// StringField returns the value of the string field with the key.
func (re RecordedEntry) StringField(key string) (string, bool) {
	field, ok := re.FindField(key)
	if !ok {
		return "", false
	}
	return string(field.Bytes), true
}

// ThrottleKey returns the throttling key the entry was logged for.
func (re RecordedEntry) ThrottleKey() (string, bool) {
	return re.StringField(log.ThrottleKeyFieldName)
}

// journal is shared between a Recorder and all loggers derived from it.
type journal struct {
	mu      sync.RWMutex
	entries []RecordedEntry
}

//nolint:gocritic
func (j *journal) WriteEntry(e logf.Entry) {
	fields := make([]log.Field, 0, len(e.Fields)+len(e.DerivedFields))
	fields = append(fields, e.Fields...)
	fields = append(fields, e.DerivedFields...)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, RecordedEntry{
		LoggerName: e.LoggerName,
		Fields:     fields,
		Level:      levelFromLogf(e.Level),
		Time:       e.Time,
		Text:       e.Text,
	})
}

func (j *journal) filter(fn func(entry RecordedEntry) bool) []RecordedEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var found []RecordedEntry
	for _, entry := range j.entries {
		if fn == nil || fn(entry) {
			found = append(found, entry)
		}
	}
	return found
}

// Recorder is a log.FieldLogger that keeps all logged entries in memory,
// so tests can check what was logged (e.g. which throttling decisions or store failures).
type Recorder struct {
	*log.LogfAdapter
	journal *journal
}

var _ log.FieldLogger = (*Recorder)(nil)

// NewRecorder returns a Recorder that records entries of all levels.
func NewRecorder() *Recorder {
	j := &journal{}
	return &Recorder{&log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, j)}, j}
}

// With returns a derived Recorder that writes to the same journal.
func (r *Recorder) With(fs ...log.Field) log.FieldLogger {
	return &Recorder{r.LogfAdapter.With(fs...).(*log.LogfAdapter), r.journal}
}

// WithLevel returns a derived Recorder that skips entries below the level.
func (r *Recorder) WithLevel(level log.Level) log.FieldLogger {
	return &Recorder{r.LogfAdapter.WithLevel(level).(*log.LogfAdapter), r.journal}
}

// Entries returns all recorded entries in the order they were logged.
func (r *Recorder) Entries() []RecordedEntry {
	return r.journal.filter(nil)
}

// FindEntry returns the first entry with the message.
func (r *Recorder) FindEntry(msg string) (RecordedEntry, bool) {
	return r.FindEntryByFilter(func(entry RecordedEntry) bool {
		return entry.Text == msg
	})
}

// FindEntryByFilter returns the first entry accepted by the filter.
func (r *Recorder) FindEntryByFilter(filter func(entry RecordedEntry) bool) (RecordedEntry, bool) {
	if found := r.journal.filter(filter); len(found) != 0 {
		return found[0], true
	}
	return RecordedEntry{}, false
}

// FindAllEntriesByFilter returns all entries accepted by the filter.
func (r *Recorder) FindAllEntriesByFilter(filter func(entry RecordedEntry) bool) []RecordedEntry {
	return r.journal.filter(filter)
}

// FindEntriesByLevel returns all entries logged with the level.
func (r *Recorder) FindEntriesByLevel(level log.Level) []RecordedEntry {
	return r.journal.filter(func(entry RecordedEntry) bool {
		return entry.Level == level
	})
}

// FindEntriesByThrottleKey returns all entries logged for the throttling key.
func (r *Recorder) FindEntriesByThrottleKey(key string) []RecordedEntry {
	return r.journal.filter(func(entry RecordedEntry) bool {
		k, ok := entry.ThrottleKey()
		return ok && k == key
	})
}

// Reset drops all recorded entries.
func (r *Recorder) Reset() {
	r.journal.mu.Lock()
	r.journal.entries = nil
	r.journal.mu.Unlock()
}

func levelFromLogf(level logf.Level) log.Level {
	switch level {
	case logf.LevelError:
		return log.LevelError
	case logf.LevelWarn:
		return log.LevelWarn
	case logf.LevelDebug:
		return log.LevelDebug
	default:
		return log.LevelInfo
	}
}
