package derive

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"sheratan/internal/domain"
)

const (
	// MaxLogEntries caps the synthesized log stream.
	MaxLogEntries = 100
	maxLogText    = 200
	maxRawResult  = 100
)

// SynthesizeLogs turns the current job list into log lines, newest first.
// Every job yields a created entry; jobs with a result yield a result entry.
// A failed job whose result carries an error yields a single failure entry in
// place of the result entry. Ties keep emission order.
func SynthesizeLogs(jobs []domain.Job, now time.Time) []domain.LogEntry {
	entries := make([]domain.LogEntry, 0, len(jobs)*2)
	for _, j := range jobs {
		source := LogSource(j.Payload)
		short := shortID(j.ID)
		raw := j.RawStatus
		if raw == "" {
			raw = "unknown"
		}
		created := j.StartedAt
		if created.IsZero() {
			created = now
		}
		entries = append(entries, domain.LogEntry{
			ID:        j.ID + "-created",
			Timestamp: created,
			Level:     domain.LevelDebug,
			Source:    source,
			Message:   fmt.Sprintf("Job created: %s... [%s]", short, raw),
		})
		if !hasResult(j.Result) {
			continue
		}
		ts := j.UpdatedAt
		if ts.IsZero() {
			ts = created
		}
		errText := ResultField(j.Result, "error")
		if strings.EqualFold(j.RawStatus, "failed") && errText != "" {
			entries = append(entries, domain.LogEntry{
				ID:        j.ID + "-error",
				Timestamp: ts,
				Level:     domain.LevelError,
				Source:    source,
				Message:   "Job failed: " + errText,
			})
			continue
		}
		text, cut := truncate(ResultText(j.Result), maxLogText)
		if cut {
			text += "..."
		}
		entries = append(entries, domain.LogEntry{
			ID:        j.ID + "-result",
			Timestamp: ts,
			Level:     resultLevel(j.RawStatus, errText),
			Source:    source,
			Message:   fmt.Sprintf("[%s] %s", short, text),
		})
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Timestamp.After(entries[b].Timestamp)
	})
	if len(entries) > MaxLogEntries {
		entries = entries[:MaxLogEntries]
	}
	return entries
}

func resultLevel(raw, errText string) string {
	switch strings.ToLower(raw) {
	case "failed":
		return domain.LevelError
	}
	if errText != "" {
		return domain.LevelError
	}
	switch strings.ToLower(raw) {
	case "running", "working":
		return domain.LevelWarn
	case "done":
		return domain.LevelInfo
	}
	return domain.LevelDebug
}

// LogSource classifies a job payload for the log stream.
func LogSource(payload map[string]any) string {
	if domain.IsSelfLoopPayload(payload) {
		return domain.SourceSelfLoop
	}
	if mentionsRelay(payload["task"]) || mentionsRelay(payload["action"]) {
		return domain.SourceRelay
	}
	return domain.SourceCore
}

func mentionsRelay(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(t), "relay")
	case map[string]any:
		kind, _ := t["kind"].(string)
		return strings.Contains(strings.ToLower(kind), "relay")
	}
	return false
}

func hasResult(result any) bool {
	switch r := result.(type) {
	case nil:
		return false
	case string:
		return r != ""
	case bool:
		return r
	}
	return true
}

// ResultField returns a string field of an object result, or "".
func ResultField(result any, key string) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

// ResultText picks the human readable part of a job result: text, then
// output, then the error, then the start of its JSON encoding.
func ResultText(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	if t := ResultField(result, "text"); t != "" {
		return t
	}
	if t := ResultField(result, "output"); t != "" {
		return t
	}
	if e := ResultField(result, "error"); e != "" {
		return "Error: " + e
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	s, _ := truncate(string(data), maxRawResult)
	return s
}

func truncate(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]), true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
