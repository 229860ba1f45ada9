package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

var (
	mu       sync.Mutex
	out      io.Writer
	minLevel = parseLevel(os.Getenv("LOG_LEVEL"))
)

// SetOutput redirects log lines. A nil writer restores stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// SetLevel drops lines below level. Unknown levels fall back to info.
func SetLevel(level string) {
	mu.Lock()
	minLevel = parseLevel(level)
	mu.Unlock()
}

// Debug writes a debug-level log line; hidden unless LOG_LEVEL=debug.
func Debug(msg string, fields map[string]any) {
	write("debug", msg, fields)
}

// Info writes an info-level log line with the given fields.
func Info(msg string, fields map[string]any) {
	write("info", msg, fields)
}

// Warn writes a warn-level log line with the given fields.
func Warn(msg string, fields map[string]any) {
	write("warn", msg, fields)
}

// Error writes an error-level log line with the given fields.
func Error(msg string, fields map[string]any) {
	write("error", msg, fields)
}

func parseLevel(raw string) int {
	if rank, ok := levelRank[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return rank
	}
	return levelRank["info"]
}

func write(level, msg string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if levelRank[level] < minLevel {
		return
	}
	w := out
	if w == nil {
		w = os.Stdout
	}

	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		switch val := v.(type) {
		case error:
			v = val.Error()
		case time.Duration:
			v = val.Milliseconds()
		}
		entry[k] = v
	}
	now := time.Now().UTC().Format(time.RFC3339)
	entry["ts"] = now
	entry["level"] = level
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(w, `{"ts":%q,"level":"error","msg":"log encode failed","source_msg":%q,"error":%q}`+"\n", now, msg, err.Error())
		return
	}
	data = append(data, '\n')
	_, _ = w.Write(data)
}
