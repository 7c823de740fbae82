package report

import (
	"reflect"
	"testing"
	"time"

	"github.com/xtxerr/statbot/internal/store"
)

// fakeReader serves fixed containers regardless of day.
type fakeReader struct {
	users  store.UsersContainer
	speeds store.SpeedsContainer
}

func (f *fakeReader) ReadUsers(day time.Time) store.UsersContainer {
	if f.users == nil {
		return store.UsersContainer{}
	}
	return f.users
}

func (f *fakeReader) ReadSpeeds(day time.Time) store.SpeedsContainer {
	if f.speeds == nil {
		return store.SpeedsContainer{}
	}
	return f.speeds
}

func TestUsersAccumulatesAcrossBuckets(t *testing.T) {
	reader := &fakeReader{users: store.UsersContainer{
		"2026-09-01 10:00": {
			{User: "alice@example", IPs: store.IPList{"1.1.1.1"}},
			{User: "bob@example", IPs: store.IPList{"2.2.2.2"}},
		},
		"2026-09-01 11:00": {
			{User: "alice@example", IPs: store.IPList{"1.1.1.1", "3.3.3.3"}},
		},
	}}
	engine := NewEngine(reader, PercentileOptions{})

	users := engine.Users(time.Now())
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}

	// Buckets are visited chronologically, entries in order: alice first.
	if users[0].User != "alice@example" {
		t.Errorf("users[0] = %q, want alice@example", users[0].User)
	}
	wantIPs := []string{"1.1.1.1", "3.3.3.3"}
	if !reflect.DeepEqual(users[0].IPs, wantIPs) {
		t.Errorf("alice IPs = %v, want %v", users[0].IPs, wantIPs)
	}
	if users[1].User != "bob@example" {
		t.Errorf("users[1] = %q, want bob@example", users[1].User)
	}
}

func TestUsersSkipsEmptyIdentifier(t *testing.T) {
	reader := &fakeReader{users: store.UsersContainer{
		"2026-09-01 10:00": {
			{User: "", IPs: store.IPList{"1.1.1.1"}},
			{User: "carol@example"},
		},
	}}
	engine := NewEngine(reader, PercentileOptions{})

	users := engine.Users(time.Now())
	if len(users) != 1 || users[0].User != "carol@example" {
		t.Errorf("got %+v, want only carol@example", users)
	}
}

func TestSpeedsGroupsByEndpoint(t *testing.T) {
	reader := &fakeReader{speeds: store.SpeedsContainer{
		"2026-09-01 10:00": {
			{User: "alice", Provider: "isp-a", Station: "s1:443", Client: "1.1.1.1:5000", ResponseTime: 0.1},
			{User: "alice", Provider: "isp-a", Station: "s1:443", Client: "1.1.1.1:5001", ResponseTime: 0.2},
			{User: "alice", Provider: "isp-a", Station: "s2:443", Client: "1.1.1.1:5000", ResponseTime: 0.3},
		},
	}}
	engine := NewEngine(reader, PercentileOptions{})

	speeds := engine.Speeds(time.Now())
	if len(speeds) != 2 {
		t.Fatalf("got %d groups, want 2", len(speeds))
	}
	if speeds[0].Station != "s1:443" || len(speeds[0].Times) != 2 {
		t.Errorf("group 0 = %+v, want s1:443 with 2 samples", speeds[0])
	}
	// Port is stripped before matching.
	if speeds[0].ClientIP != "1.1.1.1" {
		t.Errorf("group 0 client = %q, want 1.1.1.1", speeds[0].ClientIP)
	}
}

func TestSpeedsDistinctUsersStaySeparate(t *testing.T) {
	reader := &fakeReader{speeds: store.SpeedsContainer{
		"2026-09-01 10:00": {
			{User: "alice", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0.1},
			{User: "bob", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0.2},
		},
	}}
	engine := NewEngine(reader, PercentileOptions{})

	speeds := engine.Speeds(time.Now())
	if len(speeds) != 2 {
		t.Fatalf("got %d groups, want 2 (distinct users must not fold)", len(speeds))
	}
}

func TestSpeedsDistinctProvidersStaySeparate(t *testing.T) {
	reader := &fakeReader{speeds: store.SpeedsContainer{
		"2026-09-01 10:00": {
			{User: "alice", Provider: "isp-a", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0.1},
			{User: "alice", Provider: "isp-b", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0.2},
		},
	}}
	engine := NewEngine(reader, PercentileOptions{})

	speeds := engine.Speeds(time.Now())
	if len(speeds) != 2 {
		t.Fatalf("got %d groups, want 2 (distinct providers must not fold)", len(speeds))
	}
	if speeds[0].Provider != "isp-a" || speeds[1].Provider != "isp-b" {
		t.Errorf("groups = %+v, want one per provider", speeds)
	}
}

func TestSpeedsBackfillsUnsetFields(t *testing.T) {
	// The first record carries no user/provider; the second, matching the
	// same endpoint, backfills them into the group.
	reader := &fakeReader{speeds: store.SpeedsContainer{
		"2026-09-01 10:00": {
			{Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0.1},
			{User: "alice", Provider: "isp-a", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0.2},
		},
	}}
	engine := NewEngine(reader, PercentileOptions{})

	speeds := engine.Speeds(time.Now())
	if len(speeds) != 1 {
		t.Fatalf("got %d groups, want 1", len(speeds))
	}
	g := speeds[0]
	if g.User != "alice" || g.Provider != "isp-a" {
		t.Errorf("group = %+v, want user alice, provider isp-a", g)
	}
	if len(g.Times) != 2 {
		t.Errorf("got %d samples, want 2", len(g.Times))
	}
}

func TestSpeedsSkipsNonPositiveResponseTime(t *testing.T) {
	reader := &fakeReader{speeds: store.SpeedsContainer{
		"2026-09-01 10:00": {
			{User: "alice", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0},
			{User: "alice", Station: "s1:443", Client: "1.1.1.1", ResponseTime: -1},
			{User: "alice", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0.5},
		},
	}}
	engine := NewEngine(reader, PercentileOptions{})

	speeds := engine.Speeds(time.Now())
	if len(speeds) != 1 || len(speeds[0].Times) != 1 {
		t.Fatalf("got %+v, want one group with one sample", speeds)
	}
}

func TestSpeedsPercentile(t *testing.T) {
	reader := &fakeReader{speeds: store.SpeedsContainer{
		"2026-09-01 10:00": {
			{User: "alice", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0.1},
			{User: "alice", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 0.2},
			{User: "alice", Station: "s1:443", Client: "1.1.1.1", ResponseTime: 1.0},
		},
	}}
	engine := NewEngine(reader, PercentileOptions{Enabled: true, Accuracy: 0.01, Quantile: 0.9})

	speeds := engine.Speeds(time.Now())
	if len(speeds) != 1 {
		t.Fatalf("got %d groups, want 1", len(speeds))
	}

	v, ok := engine.Percentile(&speeds[0])
	if !ok {
		t.Fatal("Percentile() not ok with percentiles enabled")
	}
	// DDSketch is approximate; 1% relative accuracy.
	if v < 0.9 || v > 1.1 {
		t.Errorf("P90 = %f, want ~1.0", v)
	}

	if got := engine.PercentileLabel(); got != "P90" {
		t.Errorf("PercentileLabel() = %q, want P90", got)
	}
}

func TestPercentileDisabled(t *testing.T) {
	engine := NewEngine(&fakeReader{}, PercentileOptions{})
	g := SpeedSummary{Times: []float64{0.1}}
	if _, ok := engine.Percentile(&g); ok {
		t.Error("Percentile() ok with percentiles disabled")
	}
	if got := engine.PercentileLabel(); got != "" {
		t.Errorf("PercentileLabel() = %q, want empty", got)
	}
}

func TestClientHost(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1.2.3.4:5000", "1.2.3.4"},
		{"1.2.3.4", "1.2.3.4"},
		{":443", ":443"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := clientHost(tt.input); got != tt.want {
			t.Errorf("clientHost(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
