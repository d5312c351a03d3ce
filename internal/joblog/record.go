package joblog

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"qencode/internal/logging"
)

// Record is one parsed line of the job log.
type Record struct {
	Time    time.Time
	Level   string
	Message string
	Stage   string
	Chunk   string
	Event   string
	// Attrs holds the remaining fields.
	Attrs map[string]any
	// Raw is set when the line was not JSON.
	Raw string
}

var reservedKeys = []string{logging.KeyTime, logging.KeyLevel, logging.KeyMessage, logging.FieldStage, logging.FieldChunk, logging.FieldEventType}

// Parse decodes a JSON log line. Lines that are not JSON objects are kept as
// Raw so nothing is silently hidden.
func Parse(line string) Record {
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return Record{Raw: line}
	}
	rec := Record{
		Level:   strings.ToLower(stringField(fields, logging.KeyLevel)),
		Message: stringField(fields, logging.KeyMessage),
		Stage:   stringField(fields, logging.FieldStage),
		Chunk:   stringField(fields, logging.FieldChunk),
		Event:   stringField(fields, logging.FieldEventType),
	}
	if ts := stringField(fields, logging.KeyTime); ts != "" {
		rec.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	for _, key := range reservedKeys {
		delete(fields, key)
	}
	if len(fields) > 0 {
		rec.Attrs = fields
	}
	return rec
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// Filter selects records. Empty fields match everything.
type Filter struct {
	// MinLevel drops records below this level (debug, info, warn, error).
	MinLevel string
	Chunk    string
	Stage    string
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "warning": 2, "error": 3}

// Match reports whether rec passes the filter. Raw lines pass only an empty filter.
func (f Filter) Match(rec Record) bool {
	if rec.Raw != "" {
		return f == Filter{}
	}
	if f.MinLevel != "" {
		if min, ok := levelRank[strings.ToLower(f.MinLevel)]; ok && levelRank[rec.Level] < min {
			return false
		}
	}
	if f.Chunk != "" && rec.Chunk != f.Chunk {
		return false
	}
	if f.Stage != "" && rec.Stage != f.Stage {
		return false
	}
	return true
}

// Format renders rec as a single human-readable line.
func Format(rec Record) string {
	if rec.Raw != "" {
		return rec.Raw
	}
	var b strings.Builder
	if !rec.Time.IsZero() {
		b.WriteString(rec.Time.Local().Format("15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s ", strings.ToUpper(rec.Level))
	if rec.Stage != "" {
		fmt.Fprintf(&b, "[%s] ", rec.Stage)
	}
	if rec.Chunk != "" {
		fmt.Fprintf(&b, "chunk %s: ", rec.Chunk)
	}
	b.WriteString(rec.Message)
	keys := make([]string, 0, len(rec.Attrs))
	for k := range rec.Attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, rec.Attrs[k])
	}
	return b.String()
}
