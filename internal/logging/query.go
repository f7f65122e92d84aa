package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed log line.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Component string         `json:"component,omitempty"`
	SessionID int            `json:"session_id,omitempty"`
	Stage     int            `json:"stage,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries. Zero fields match everything; set fields are
// combined with AND.
type Filter struct {
	// Level keeps entries at or above this level.
	Level     string
	Since     time.Time
	SessionID int
	Stage     int
	Component string
	Contains  string
}

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses {dataDir}/zektor.log, sorted by time. Lines that are
// not valid JSON are skipped.
func ReadEntries(dataDir string) ([]Entry, error) {
	path := filepath.Join(dataDir, FileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file at %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := parseEntries(f)
	if err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}
	return entries, nil
}

func parseEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

func parseEntry(line string) (Entry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var e Entry
	if s, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.Time = t
		}
	}
	e.Level, _ = raw["level"].(string)
	e.Message, _ = raw["msg"].(string)
	e.Component, _ = raw["component"].(string)
	if n, ok := raw["session_id"].(float64); ok {
		e.SessionID = int(n)
	}
	if n, ok := raw["stage"].(float64); ok {
		e.Stage = int(n)
	}

	for k, v := range raw {
		switch k {
		case "time", "level", "msg", "component", "session_id", "stage":
			continue
		}
		if e.Attrs == nil {
			e.Attrs = make(map[string]any)
		}
		e.Attrs[k] = v
	}
	return e, nil
}

// Apply returns the entries matching f.
func (f Filter) Apply(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f Filter) matches(e Entry) bool {
	if f.Level != "" {
		want, wok := levelRank[strings.ToUpper(f.Level)]
		got, gok := levelRank[e.Level]
		if wok && gok && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if f.SessionID != 0 && e.SessionID != f.SessionID {
		return false
	}
	if f.Stage != 0 && e.Stage != f.Stage {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Contains != "" && !strings.Contains(e.Message, f.Contains) {
		return false
	}
	return true
}

// WriteText renders entries one per line:
// [TIME] LEVEL - MESSAGE (context) {attrs}
func WriteText(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		parts := []string{
			fmt.Sprintf("[%s]", e.Time.Format("2006-01-02 15:04:05.000")),
			e.Level, "-", e.Message,
		}

		var ctx []string
		if e.Component != "" {
			ctx = append(ctx, "component="+e.Component)
		}
		if e.SessionID != 0 {
			ctx = append(ctx, fmt.Sprintf("session=%d", e.SessionID))
		}
		if e.Stage != 0 {
			ctx = append(ctx, fmt.Sprintf("stage=%d", e.Stage))
		}
		if len(ctx) > 0 {
			parts = append(parts, "("+strings.Join(ctx, ", ")+")")
		}
		if len(e.Attrs) > 0 {
			b, _ := json.Marshal(e.Attrs)
			parts = append(parts, string(b))
		}

		if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
			return fmt.Errorf("failed to write log entry: %w", err)
		}
	}
	return nil
}
