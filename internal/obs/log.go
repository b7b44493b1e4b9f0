package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the console.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	entry["type"] = "http"
	writeLine(entry)
}

// Info logs an informational message.
func Info(msg string, fields map[string]any) { Log("info", msg, fields) }

// Warn logs a recoverable problem.
func Warn(msg string, fields map[string]any) { Log("warn", msg, fields) }

// Error logs a failure that was not surfaced to the caller.
func Error(msg string, fields map[string]any) { Log("error", msg, fields) }

// Log writes a single JSON line at the given level.
func Log(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		if _, reserved := entry[k]; reserved {
			continue
		}
		entry[k] = v
	}
	writeLine(entry)
}

func writeLine(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
