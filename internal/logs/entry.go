package logs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"curator/internal/logging"
)

// Entry is one decoded JSON log record.
type Entry struct {
	Time      string
	Level     string
	Message   string
	Component string
	Fields    map[string]string
	// Raw holds the undecoded line when it was not valid JSON.
	Raw string
}

var reservedKeys = map[string]struct{}{
	"ts":                   {},
	"level":                {},
	"msg":                  {},
	"source":               {},
	logging.FieldComponent: {},
}

// ParseEntry decodes a line produced by the daemon's JSON handler. Lines that
// are not JSON objects come back with only Raw set.
func ParseEntry(line string) Entry {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{Raw: line}
	}
	entry := Entry{
		Time:      stringField(raw, "ts"),
		Level:     strings.ToLower(stringField(raw, "level")),
		Message:   stringField(raw, "msg"),
		Component: stringField(raw, logging.FieldComponent),
		Fields:    make(map[string]string, len(raw)),
	}
	for key, value := range raw {
		if _, skip := reservedKeys[key]; skip {
			continue
		}
		entry.Fields[key] = fmt.Sprint(value)
	}
	return entry
}

func stringField(raw map[string]any, key string) string {
	value, ok := raw[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Format renders entry on one line: time, level, component, message, then the
// remaining fields sorted by key.
func (e Entry) Format() string {
	if e.Raw != "" {
		return e.Raw
	}
	var b strings.Builder
	if e.Time != "" {
		b.WriteString(e.Time)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s ", strings.ToUpper(e.Level))
	if e.Component != "" {
		b.WriteString("[" + e.Component + "] ")
	}
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := e.Fields[key]
		if strings.ContainsAny(value, " \t\"=") {
			value = fmt.Sprintf("%q", value)
		}
		fmt.Fprintf(&b, " %s=%s", key, value)
	}
	return b.String()
}

// Filter selects entries. The zero value matches everything.
type Filter struct {
	ExecutionID string
	DatasetID   string
	// MinLevel is one of debug, info, warn or error.
	MinLevel string
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// Match reports whether entry passes the filter. Undecodable lines only pass
// an empty filter.
func (f Filter) Match(entry Entry) bool {
	if entry.Raw != "" {
		return f == Filter{}
	}
	if f.ExecutionID != "" && entry.Fields[logging.FieldExecutionID] != f.ExecutionID {
		return false
	}
	if f.DatasetID != "" && entry.Fields[logging.FieldDatasetID] != f.DatasetID {
		return false
	}
	if min, ok := levelRank[strings.ToLower(f.MinLevel)]; ok {
		if rank, known := levelRank[entry.Level]; known && rank < min {
			return false
		}
	}
	return true
}
