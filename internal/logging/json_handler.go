package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Keys of the fixed fields in JSON log records. Readers of the job log
// (qencode logs) decode records by these names.
const (
	KeyTime    = "ts"
	KeyLevel   = "level"
	KeyMessage = "msg"
	KeyCaller  = "caller"
)

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: jsonAttr,
	})
}

// jsonAttr rewrites the builtin keys: UTC nanosecond timestamps, lowercase
// levels, and file:line callers.
func jsonAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		if attr.Value.Kind() == slog.KindTime {
			return slog.String(KeyTime, attr.Value.Time().UTC().Format(time.RFC3339Nano))
		}
		attr.Key = KeyTime
	case slog.LevelKey:
		return slog.String(KeyLevel, strings.ToLower(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = KeyMessage
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			return slog.String(KeyCaller, filepath.Base(src.File)+":"+strconv.Itoa(src.Line))
		}
	}
	return attr
}
