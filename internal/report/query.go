package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/statbot/internal/logging"
	"github.com/xtxerr/statbot/internal/store"
)

var log = logging.Component("report")

// ContainerReader is the read side of the log store.
type ContainerReader interface {
	ReadUsers(day time.Time) store.UsersContainer
	ReadSpeeds(day time.Time) store.SpeedsContainer
}

// PercentileOptions configures the optional response-time percentile column.
type PercentileOptions struct {
	Enabled  bool
	Accuracy float64 // DDSketch relative accuracy
	Quantile float64 // e.g. 0.9 for P90
}

// Engine answers day-scoped aggregate queries. Reads may run concurrently
// with the aggregation worker's writes; results reflect whatever has been
// flushed to the day's container at read time.
type Engine struct {
	reader     ContainerReader
	percentile PercentileOptions
}

// NewEngine creates a query engine over a container reader.
func NewEngine(reader ContainerReader, percentile PercentileOptions) *Engine {
	return &Engine{reader: reader, percentile: percentile}
}

// UserSummary is one row of a users report: a user and every address it was
// seen from during the day.
type UserSummary struct {
	User string
	IPs  []string
}

// Users scans the day's users container and accumulates addresses per user,
// in first-seen order. Legacy bare-string entries contribute a user with an
// empty address set.
func (e *Engine) Users(day time.Time) []UserSummary {
	container := e.reader.ReadUsers(day)

	var users []UserSummary
	for _, tag := range sortedTags(container) {
		for _, entry := range container[tag] {
			if entry.User == "" {
				log.Warn("user entry missing identifier", "bucket", tag)
				continue
			}

			idx := -1
			for i := range users {
				if users[i].User == entry.User {
					idx = i
					break
				}
			}
			if idx < 0 {
				users = append(users, UserSummary{User: entry.User})
				idx = len(users) - 1
			}

			for _, ip := range entry.IPs {
				if !contains(users[idx].IPs, ip) {
					users[idx].IPs = append(users[idx].IPs, ip)
				}
			}
		}
	}
	return users
}

// SpeedSummary is one row of a speeds report: a physical endpoint and the
// response times accumulated for it. Provider and User stay empty until a
// record carrying them joins the group.
type SpeedSummary struct {
	Station  string
	ClientIP string
	Provider string
	User     string
	Times    []float64

	// Sketch holds the response-time distribution when percentiles are
	// enabled; nil otherwise.
	Sketch *ddsketch.DDSketch
}

// Speeds scans the day's speeds container and groups samples by first-fit
// fuzzy matching.
//
// A record joins the first existing group whose station and client IP match
// exactly and whose provider/user are either still unset or equal to the
// record's. On a match the group's unset fields are backfilled from the
// record. The same endpoint can therefore accumulate across senders only
// while provider/user are genuinely absent; once observed, distinct
// combinations stay separate. This is order-sensitive by design.
func (e *Engine) Speeds(day time.Time) []SpeedSummary {
	container := e.reader.ReadSpeeds(day)

	var speeds []SpeedSummary
	for _, tag := range sortedTags(container) {
		for _, entry := range container[tag] {
			if entry.ResponseTime <= 0 {
				log.Warn("speed entry with bad response time", "bucket", tag, "station", entry.Station)
				continue
			}

			client := clientHost(entry.Client)

			idx := -1
			for i := range speeds {
				g := &speeds[i]
				if g.Station != entry.Station || g.ClientIP != client {
					continue
				}
				if g.Provider != "" && g.Provider != entry.Provider {
					continue
				}
				if g.User != "" && g.User != entry.User {
					continue
				}
				idx = i
				break
			}
			if idx < 0 {
				speeds = append(speeds, e.newSpeedSummary(entry.Station, client))
				idx = len(speeds) - 1
			}

			g := &speeds[idx]
			if entry.User != "" {
				g.User = entry.User
			}
			if entry.Provider != "" {
				g.Provider = entry.Provider
			}
			g.Times = append(g.Times, entry.ResponseTime)
			if g.Sketch != nil {
				g.Sketch.Add(entry.ResponseTime)
			}
		}
	}
	return speeds
}

func (e *Engine) newSpeedSummary(station, client string) SpeedSummary {
	g := SpeedSummary{Station: station, ClientIP: client}
	if e.percentile.Enabled {
		if sketch, err := ddsketch.NewDefaultDDSketch(e.percentile.Accuracy); err == nil {
			g.Sketch = sketch
		}
	}
	return g
}

// Percentile returns the configured quantile of a group's response times,
// or false when percentiles are disabled or the group is empty.
func (e *Engine) Percentile(g *SpeedSummary) (float64, bool) {
	if g.Sketch == nil {
		return 0, false
	}
	v, err := g.Sketch.GetValueAtQuantile(e.percentile.Quantile)
	if err != nil {
		return 0, false
	}
	return v, true
}

// PercentileLabel returns the column label for the percentile feature,
// e.g. "P90".
func (e *Engine) PercentileLabel() string {
	if !e.percentile.Enabled {
		return ""
	}
	return fmt.Sprintf("P%g", e.percentile.Quantile*100)
}

// clientHost reduces "host:port" to its host component. A leading colon
// means there is no host part to keep, so the string stays as-is.
func clientHost(client string) string {
	if i := strings.Index(client, ":"); i > 0 {
		return client[:i]
	}
	return client
}

// sortedTags returns a container's bucket tags in chronological order.
// The tag format sorts lexicographically.
func sortedTags[V any](container map[string][]V) []string {
	tags := make([]string, 0, len(container))
	for tag := range container {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
