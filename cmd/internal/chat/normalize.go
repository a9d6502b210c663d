package chat

import (
	"strconv"
	"strings"
	"time"
)

const (
	// UnknownAuthor is the author used when no payload field resolves.
	UnknownAuthor = "Unknown"
	// EmptyMessagePlaceholder is shown for payloads with no usable text.
	EmptyMessagePlaceholder = "(empty message)"

	// fallbackIDText is the text component used when synthesizing an id
	// for a payload without one. Kept distinct from the display
	// placeholder so ids stay short.
	fallbackIDText = "..."
)

var (
	authorKeys    = []string{"author", "user", "sender"}
	textKeys      = []string{"message", "text", "body", "content"}
	timestampKeys = []string{"createdAt", "created_at", "timestamp", "time", "date"}
	nameKeys      = []string{"name", "fullName", "displayName"}
)

// Normalize converts an arbitrary payload into a canonical Message.
// It is total: any input, including nil, yields a usable record.
//
// When the payload carries no id, a deterministic fallback id is built from
// author, timestamp and text. Two distinct messages with identical fields
// and no server id will therefore collide; that is an accepted best-effort
// dedupe heuristic, not strict identity.
func Normalize(raw Raw) Message {
	return normalizeAt(raw, time.Now())
}

// normalizeAt is Normalize with an injectable clock for tests.
func normalizeAt(raw Raw, now time.Time) Message {
	author := resolveAuthor(raw)
	text := resolveText(raw, EmptyMessagePlaceholder)
	createdAt := resolveCreatedAt(raw, now)

	return Message{
		ID:        resolveID(raw, now),
		Author:    author,
		Message:   text,
		CreatedAt: createdAt,
	}
}

func resolveID(raw Raw, now time.Time) string {
	if id := idString(raw["id"]); id != "" {
		return id
	}
	if id := idString(raw["_id"]); id != "" {
		return id
	}

	// Fallback: author-timestamp-text. The timestamp component prefers the
	// raw string fields so the id is stable across repeated normalization
	// of the same payload.
	author := resolveAuthor(raw)
	text := resolveText(raw, fallbackIDText)
	createdAt := rawTimestampString(raw)
	if createdAt == "" {
		createdAt = isoString(now)
	}
	return author + "-" + createdAt + "-" + text
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

func resolveAuthor(raw Raw) string {
	for _, key := range authorKeys {
		if name := coerceAuthor(raw[key]); name != "" {
			return name
		}
	}
	return UnknownAuthor
}

// coerceAuthor extracts an author name from common payload shapes: a plain
// string, or an object exposing name/fullName/displayName.
func coerceAuthor(v any) string {
	switch author := v.(type) {
	case string:
		return strings.TrimSpace(author)
	case map[string]any:
		for _, key := range nameKeys {
			if name, ok := author[key].(string); ok {
				if name = strings.TrimSpace(name); name != "" {
					return name
				}
			}
		}
	}
	return ""
}

func resolveText(raw Raw, fallback string) string {
	for _, key := range textKeys {
		if text := coerceText(raw[key]); text != "" {
			return text
		}
	}
	return fallback
}

// coerceText accepts strings and numbers; numbers are stringified.
func coerceText(v any) string {
	switch text := v.(type) {
	case string:
		return strings.TrimSpace(text)
	case float64:
		return strconv.FormatFloat(text, 'f', -1, 64)
	case int:
		return strconv.Itoa(text)
	}
	return ""
}

func resolveCreatedAt(raw Raw, now time.Time) string {
	for _, key := range timestampKeys {
		if t, ok := parseTimestamp(raw[key]); ok {
			return isoString(t)
		}
	}
	return isoString(now)
}

// rawTimestampString returns the first non-empty timestamp field as-is,
// without parsing. Used only for fallback id construction.
func rawTimestampString(raw Raw) string {
	for _, key := range timestampKeys {
		if s, ok := raw[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseTimestamp accepts RFC3339-ish strings, epoch-millisecond numbers
// (the remote feed originates from a JavaScript backend, where bare numbers
// are always milliseconds) and native time values.
func parseTimestamp(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts, true
	case float64:
		return time.UnixMilli(int64(ts)), true
	case int64:
		return time.UnixMilli(ts), true
	case string:
		return parseTimestampString(ts)
	}
	return time.Time{}, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// Numeric strings are epoch milliseconds.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// Timestamp formats t in the canonical RFC3339 UTC form used for
// Message.CreatedAt.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isoString(t time.Time) string {
	return Timestamp(t)
}

