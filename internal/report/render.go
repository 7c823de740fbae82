package report

import (
	"fmt"
	"strings"
	"time"
)

// Directory resolves a user identifier to display information. Resolution
// is delegated to the identity collaborator; implementations must fall back
// to something derived from the identifier itself rather than fail.
type Directory interface {
	// Name returns a display name for the identifier.
	Name(id string) string

	// Locale returns a language/locale string, or "" when unknown.
	Locale(id string) string
}

// ipLink renders an address as a lookup link.
func ipLink(ip string) string {
	return fmt.Sprintf("[%s](https://ip138.com/iplookup.php?ip=%s \"\")", ip, ip)
}

func ipLinks(ips []string) string {
	links := make([]string, 0, len(ips))
	for _, ip := range ips {
		links = append(links, ipLink(ip))
	}
	return strings.Join(links, ", ")
}

// RenderUsers formats a users query result as a markdown table.
func RenderUsers(users []UserSummary, dir Directory, day time.Time) string {
	var b strings.Builder
	b.WriteString("| ID | Name - Locale | IP |\n")
	b.WriteString("|---|---------------|----|\n")

	for _, u := range users {
		name := dir.Name(u.User)
		locale := dir.Locale(u.User)
		fmt.Fprintf(&b, "| %s | **%q** - %s | %s |\n", u.User, name, locale, ipLinks(u.IPs))
	}

	fmt.Fprintf(&b, "\nTotal: %d, Date: %s", len(users), day.Format("2006-01-02"))
	return b.String()
}

// RenderSpeeds formats a speeds query result as a markdown table. When the
// engine has percentiles enabled an extra quantile column is appended.
func RenderSpeeds(speeds []SpeedSummary, dir Directory, engine *Engine, day time.Time) string {
	label := engine.PercentileLabel()

	var b strings.Builder
	if label != "" {
		fmt.Fprintf(&b, "| Name | IP | Station | Times | %s |\n", label)
		b.WriteString("|-----|----|---------|-------|----|\n")
	} else {
		b.WriteString("| Name | IP | Station | Times |\n")
		b.WriteString("|-----|----|---------|-------|\n")
	}

	for i := range speeds {
		g := &speeds[i]

		name := dir.Name(g.User)
		station := clientHost(g.Station)

		times, count := Summarize(g.Times)
		if count > 3 {
			times += fmt.Sprintf(", count: %d", count)
		}

		if label != "" {
			cell := "-"
			if v, ok := engine.Percentile(g); ok {
				cell = fmt.Sprintf("%.3f", v)
			}
			fmt.Fprintf(&b, "| **%s** | %s | %s | %s | %s |\n",
				name, ipLink(g.ClientIP), station, times, cell)
		} else {
			fmt.Fprintf(&b, "| **%s** | %s | %s | %s |\n",
				name, ipLink(g.ClientIP), station, times)
		}
	}

	fmt.Fprintf(&b, "\nTotal: %d, Date: %s", len(speeds), day.Format("2006-01-02"))
	return b.String()
}

// ParseDay interprets an optional day argument. An empty string means the
// current day.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now(), nil
	}
	return time.ParseInLocation("2006-01-02", s, time.Local)
}
