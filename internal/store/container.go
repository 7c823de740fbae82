// Package store persists telemetry records into per-(kind, day) JSON log
// containers keyed by minute-granularity bucket tags.
//
// Container file layout (one file per kind per calendar day):
//
//	{
//	    "2026-09-01 10:15": [ <kind-specific entries> ],
//	    ...
//	}
//
// Users entries are written as {"U": id, "IP": [ip, ...]}. Two older shapes
// are tolerated on read: a bare identifier string, and a scalar "IP" value.
// Stats entries are arbitrary recorded objects. Speeds entries are
// {"U", "provider", "station", "client", "response_time"}.
package store

import (
	"fmt"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/xtxerr/statbot/internal/event"
)

// UserEntry is one users-container entry. It is a tagged union over the
// current structured shape and the legacy bare-string shape; Pairs is the
// explicit normalization step both the merge and the read path go through.
type UserEntry struct {
	User string `json:"U"`
	IPs  IPList `json:"IP"`
}

// UnmarshalJSON accepts either a bare identifier string or a structured
// {"U", "IP"} record.
func (e *UserEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.User)
	}

	type plain UserEntry
	return json.Unmarshal(data, (*plain)(e))
}

// Pairs returns the entry in canonical (user, ip) form. An entry with no
// addresses yields a single pair with an empty IP.
func (e *UserEntry) Pairs() []UserIP {
	if len(e.IPs) == 0 {
		return []UserIP{{User: e.User}}
	}
	pairs := make([]UserIP, 0, len(e.IPs))
	for _, ip := range e.IPs {
		pairs = append(pairs, UserIP{User: e.User, IP: ip})
	}
	return pairs
}

// UserIP is a canonical (user, ip) pair. IP is empty when the user was
// recorded without an address.
type UserIP struct {
	User string
	IP   string
}

// IPList tolerates a scalar string where a list is expected.
type IPList []string

// UnmarshalJSON accepts "1.2.3.4" as well as ["1.2.3.4", ...].
func (l *IPList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = IPList{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = IPList(list)
	return nil
}

// SpeedEntry is one speeds-container entry.
type SpeedEntry struct {
	User         string  `json:"U"`
	Provider     string  `json:"provider,omitempty"`
	Station      string  `json:"station"`
	Client       string  `json:"client,omitempty"`
	ResponseTime float64 `json:"response_time"`
}

// UsersContainer maps bucket tags to users entries.
type UsersContainer map[string][]UserEntry

// StatsContainer maps bucket tags to opaque counter records.
type StatsContainer map[string][]event.StatRecord

// SpeedsContainer maps bucket tags to latency samples.
type SpeedsContainer map[string][]SpeedEntry

// mergeUserBucket folds incoming records into a bucket's existing entries.
//
// Every entry, existing or incoming, is reduced to canonical (user, ip)
// pairs; the union is regrouped into one entry per user with a sorted,
// deduplicated address list. Re-merging identical input changes nothing,
// and a user's recorded address set only ever grows.
func mergeUserBucket(existing []UserEntry, incoming []event.UserRecord) []UserEntry {
	pairs := make(map[UserIP]struct{})

	for i := range existing {
		for _, p := range existing[i].Pairs() {
			pairs[p] = struct{}{}
		}
	}
	for _, rec := range incoming {
		entry := UserEntry{User: rec.User, IPs: IPList(rec.IPs)}
		for _, p := range entry.Pairs() {
			pairs[p] = struct{}{}
		}
	}

	ips := make(map[string][]string)
	for p := range pairs {
		if _, ok := ips[p.User]; !ok {
			ips[p.User] = nil
		}
		if p.IP != "" {
			ips[p.User] = append(ips[p.User], p.IP)
		}
	}

	users := make([]string, 0, len(ips))
	for user := range ips {
		users = append(users, user)
	}
	sort.Strings(users)

	entries := make([]UserEntry, 0, len(users))
	for _, user := range users {
		list := ips[user]
		sort.Strings(list)
		if list == nil {
			list = []string{}
		}
		entries = append(entries, UserEntry{User: user, IPs: IPList(list)})
	}
	return entries
}

// marshalContainer encodes a container for persistence.
func marshalContainer(container any) ([]byte, error) {
	data, err := json.Marshal(container)
	if err != nil {
		return nil, fmt.Errorf("encode container: %w", err)
	}
	return data, nil
}
