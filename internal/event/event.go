// Package event defines the telemetry event model and decodes inbound
// payloads from the messaging collaborator.
package event

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Kind indicates the type of a log event.
type Kind int

const (
	// KindUsers carries user presence records.
	KindUsers Kind = iota
	// KindStats carries message-type counter records.
	KindStats
	// KindSpeeds carries per-request latency samples.
	KindSpeeds
)

// String returns a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindUsers:
		return "users"
	case KindStats:
		return "stats"
	case KindSpeeds:
		return "speeds"
	default:
		return "unknown"
	}
}

// UserRecord is one presence entry: a user identifier plus the client
// addresses it was seen from. IPs may be empty.
type UserRecord struct {
	User string
	IPs  []string
}

// StatRecord is an opaque counter record. It is appended to the container
// verbatim, never deduplicated.
type StatRecord map[string]any

// SpeedRecord is one latency sample for a station test.
type SpeedRecord struct {
	User         string
	Provider     string
	Station      string // "host:port"
	Client       string
	ResponseTime float64 // seconds
}

// LogEvent is a decoded telemetry event pending persistence.
// It is immutable once constructed and consumed exactly once by the
// aggregation worker.
type LogEvent struct {
	Kind Kind
	Time time.Time // sender-supplied; zero when the payload had no time

	Users  []UserRecord
	Stats  []StatRecord
	Speeds []SpeedRecord
}

// BucketTag returns the minute-granularity bucket key for a timestamp,
// "YYYY-MM-DD HH:MM" in local time.
func BucketTag(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

// DayTag returns the calendar-day key for a timestamp, "YYYY-MM-DD" in
// local time.
func DayTag(t time.Time) string {
	return t.Format("2006-01-02")
}

// Parse decodes a raw inbound payload. The app namespace must match the
// expected value or the payload is rejected.
func Parse(data []byte, app string) (*LogEvent, error) {
	var content map[string]any
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return ParseContent(content, app)
}

// ParseContent builds a LogEvent from a decoded payload.
func ParseContent(content map[string]any, app string) (*LogEvent, error) {
	if got := asString(content["app"]); got != app {
		return nil, fmt.Errorf("unexpected app namespace: %q", got)
	}

	ev := &LogEvent{}

	if secs, ok := asFloat(content["time"]); ok && secs > 0 {
		ev.Time = time.Unix(int64(secs), int64((secs-float64(int64(secs)))*float64(time.Second)))
	}

	mod := asString(content["mod"])
	switch mod {
	case "users":
		users, err := parseUsers(content["users"])
		if err != nil {
			return nil, err
		}
		ev.Kind = KindUsers
		ev.Users = users
	case "stats":
		stats, err := parseStats(content["stats"])
		if err != nil {
			return nil, err
		}
		ev.Kind = KindStats
		ev.Stats = stats
	case "speeds":
		speeds, err := parseSpeeds(content)
		if err != nil {
			return nil, err
		}
		ev.Kind = KindSpeeds
		ev.Speeds = speeds
	default:
		return nil, fmt.Errorf("unknown module: %q", mod)
	}

	return ev, nil
}

// parseUsers accepts entries as bare identifier strings (legacy schema) or
// {"U": id, "IP": string|[string]} records.
func parseUsers(raw any) ([]UserRecord, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("users field missing or not a list")
	}

	records := make([]UserRecord, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			records = append(records, UserRecord{User: v})
		case map[string]any:
			uid := asString(v["U"])
			if uid == "" {
				return nil, fmt.Errorf("user entry missing identifier: %v", v)
			}
			records = append(records, UserRecord{User: uid, IPs: asStringList(v["IP"])})
		default:
			return nil, fmt.Errorf("bad user entry: %v", item)
		}
	}
	return records, nil
}

func parseStats(raw any) ([]StatRecord, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("stats field missing or not a list")
	}

	records := make([]StatRecord, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("bad stat entry: %v", item)
		}
		records = append(records, StatRecord(m))
	}
	return records, nil
}

// parseSpeeds flattens a speeds payload into one SpeedRecord per station.
// A station's socket_address overrides the client address for itself and
// for the stations that follow it, matching the sender's reporting order.
func parseSpeeds(content map[string]any) ([]SpeedRecord, error) {
	sender := asString(content["U"])
	provider := asString(content["provider"])
	client := parseRemoteAddress(content["remote_address"])

	list, ok := content["stations"].([]any)
	if !ok {
		return nil, fmt.Errorf("stations field missing or not a list")
	}

	records := make([]SpeedRecord, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("bad station entry: %v", item)
		}

		host := asString(m["host"])
		port, _ := asFloat(m["port"])
		rt, ok := asFloat(m["response_time"])
		if !ok {
			return nil, fmt.Errorf("station missing response_time: %v", m)
		}
		if addr := asString(m["socket_address"]); addr != "" {
			client = addr
		}

		records = append(records, SpeedRecord{
			User:         sender,
			Provider:     provider,
			Station:      fmt.Sprintf("%s:%d", host, int(port)),
			Client:       client,
			ResponseTime: rt,
		})
	}
	return records, nil
}

// parseRemoteAddress accepts "host:port" or a [host, port] pair.
func parseRemoteAddress(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		if len(v) == 2 {
			host := asString(v[0])
			if port, ok := asFloat(v[1]); ok {
				return fmt.Sprintf("%s:%d", host, int(port))
			}
		}
	}
	return ""
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat accepts the numeric types a generic JSON decode can produce.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asStringList accepts a scalar string or a list of strings.
func asStringList(v any) []string {
	switch ip := v.(type) {
	case string:
		return []string{ip}
	case []any:
		out := make([]string, 0, len(ip))
		for _, item := range ip {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return ip
	}
	return nil
}
