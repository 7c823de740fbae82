package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/xtxerr/statbot/internal/event"
	"github.com/xtxerr/statbot/internal/logging"
)

var log = logging.Component("store")

// Store owns the per-(kind, day) log container files.
//
// All mutation goes through the Merge methods, which are read-modify-write
// on whole container files. The aggregation worker is the only caller of
// the Merge methods; that single-writer discipline is what makes the
// unlocked file access safe. Read methods may run concurrently with merges
// and give best-effort results.
type Store struct {
	dataDir string

	usersTemplate  string
	statsTemplate  string
	speedsTemplate string
}

// Options configures a Store.
type Options struct {
	// DataDir is the root directory for container files.
	DataDir string

	// File name templates; {yyyy}, {mm}, {dd} are replaced per day.
	UsersTemplate  string
	StatsTemplate  string
	SpeedsTemplate string
}

// New creates a store rooted at opts.DataDir, creating the directory if
// needed.
func New(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return &Store{
		dataDir:        opts.DataDir,
		usersTemplate:  opts.UsersTemplate,
		statsTemplate:  opts.StatsTemplate,
		speedsTemplate: opts.SpeedsTemplate,
	}, nil
}

// Path returns the container file path for a kind and day.
func (s *Store) Path(kind event.Kind, day time.Time) string {
	var tmpl string
	switch kind {
	case event.KindUsers:
		tmpl = s.usersTemplate
	case event.KindStats:
		tmpl = s.statsTemplate
	case event.KindSpeeds:
		tmpl = s.speedsTemplate
	}

	name := strings.NewReplacer(
		"{yyyy}", day.Format("2006"),
		"{mm}", day.Format("01"),
		"{dd}", day.Format("02"),
	).Replace(tmpl)

	return filepath.Join(s.dataDir, name)
}

// =============================================================================
// Merge (single writer: the aggregation worker)
// =============================================================================

// MergeUsers merges presence records into the bucket derived from t.
//
// The bucket is rebuilt as the set union of the canonical (user, ip) pairs
// of its existing entries and the incoming records, so the merge is
// idempotent and a user's address set never shrinks.
func (s *Store) MergeUsers(t time.Time, incoming []event.UserRecord) error {
	path := s.Path(event.KindUsers, t)

	container := UsersContainer{}
	s.readInto(path, &container)

	tag := event.BucketTag(t)
	container[tag] = mergeUserBucket(container[tag], incoming)

	return s.writeContainer(path, container)
}

// MergeStats appends counter records to the bucket derived from t, in input
// order. Repeated identical records are intentionally kept: each represents
// a distinct occurrence.
func (s *Store) MergeStats(t time.Time, incoming []event.StatRecord) error {
	path := s.Path(event.KindStats, t)

	container := StatsContainer{}
	s.readInto(path, &container)

	tag := event.BucketTag(t)
	container[tag] = append(container[tag], incoming...)

	return s.writeContainer(path, container)
}

// MergeSpeeds appends latency samples to the bucket derived from t, in
// input order.
func (s *Store) MergeSpeeds(t time.Time, incoming []event.SpeedRecord) error {
	path := s.Path(event.KindSpeeds, t)

	container := SpeedsContainer{}
	s.readInto(path, &container)

	tag := event.BucketTag(t)
	bucket := container[tag]
	for _, rec := range incoming {
		bucket = append(bucket, SpeedEntry{
			User:         rec.User,
			Provider:     rec.Provider,
			Station:      rec.Station,
			Client:       rec.Client,
			ResponseTime: rec.ResponseTime,
		})
	}
	container[tag] = bucket

	return s.writeContainer(path, container)
}

// =============================================================================
// Read (concurrent, best-effort)
// =============================================================================

// ReadUsers returns the users container for a day. A missing or unreadable
// file yields an empty container: corrupt data is treated as "nothing
// recorded yet".
func (s *Store) ReadUsers(day time.Time) UsersContainer {
	container := UsersContainer{}
	s.readInto(s.Path(event.KindUsers, day), &container)
	return container
}

// ReadStats returns the stats container for a day.
func (s *Store) ReadStats(day time.Time) StatsContainer {
	container := StatsContainer{}
	s.readInto(s.Path(event.KindStats, day), &container)
	return container
}

// ReadSpeeds returns the speeds container for a day.
func (s *Store) ReadSpeeds(day time.Time) SpeedsContainer {
	container := SpeedsContainer{}
	s.readInto(s.Path(event.KindSpeeds, day), &container)
	return container
}

// readInto loads a container file into dst. Absent files are silently
// empty; unreadable or unparsable files are logged and treated as empty.
// An archived "<path>.gz" file is read transparently.
func (s *Store) readInto(path string, dst any) {
	data, err := s.readFile(path)
	if err != nil {
		log.Warn("container unreadable, treating as empty", "path", path, "error", err)
		return
	}
	if data == nil {
		return
	}

	if err := json.Unmarshal(data, dst); err != nil {
		log.Warn("container corrupt, treating as empty", "path", path, "error", err)
	}
}

// readFile returns (nil, nil) when neither the plain nor the archived form
// of the file exists.
func (s *Store) readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.Open(path + ".gz")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer gz.Close()

	data, err = io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return data, nil
}

// writeContainer persists a container atomically: write to a temp file in
// the same directory, sync, then rename over the target.
func (s *Store) writeContainer(path string, container any) error {
	data, err := marshalContainer(container)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp container: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write container: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close container: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace container: %w", err)
	}
	return nil
}
