// Package handler implements the text command surface of the statistics
// recorder: "users [YYYY-MM-DD]" and "speeds [YYYY-MM-DD]".
package handler

import (
	"fmt"
	"strings"

	"github.com/xtxerr/statbot/internal/logging"
	"github.com/xtxerr/statbot/internal/report"
)

var log = logging.Component("handler")

// Handler answers text commands with rendered reports. Replies are
// markdown; an empty reply means the text was not a known command.
type Handler struct {
	engine      *report.Engine
	directory   report.Directory
	supervisors map[string]struct{}
}

// New creates a handler. Only senders listed in supervisors may run
// commands.
func New(engine *report.Engine, directory report.Directory, supervisors []string) *Handler {
	allowed := make(map[string]struct{}, len(supervisors))
	for _, id := range supervisors {
		allowed[id] = struct{}{}
	}
	return &Handler{
		engine:      engine,
		directory:   directory,
		supervisors: allowed,
	}
}

// Handle processes one text message from an authenticated sender and
// returns the reply text. Permissions are checked before the command is
// parsed, so unauthorized senders always get the same refusal.
func (h *Handler) Handle(sender, text string) string {
	text = strings.TrimSpace(text)

	if _, ok := h.supervisors[sender]; !ok {
		log.Warn("permission denied", "sender", sender, "text", text)
		return "Forbidden\n\n----\nPermission Denied"
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}

	dayArg := ""
	if len(fields) > 1 {
		dayArg = fields[1]
	}

	switch fields[0] {
	case "users":
		return h.users(dayArg)
	case "speeds":
		return h.speeds(dayArg)
	default:
		return ""
	}
}

func (h *Handler) users(dayArg string) string {
	day, err := report.ParseDay(dayArg)
	if err != nil {
		log.Error("bad date argument", "day", dayArg, "error", err)
		return fmt.Sprintf("error date: %s, %s", dayArg, err)
	}

	users := h.engine.Users(day)
	log.Info("users query", "day", day.Format("2006-01-02"), "rows", len(users))
	return report.RenderUsers(users, h.directory, day)
}

func (h *Handler) speeds(dayArg string) string {
	day, err := report.ParseDay(dayArg)
	if err != nil {
		log.Error("bad date argument", "day", dayArg, "error", err)
		return fmt.Sprintf("error date: %s, %s", dayArg, err)
	}

	speeds := h.engine.Speeds(day)
	log.Info("speeds query", "day", day.Format("2006-01-02"), "rows", len(speeds))
	return report.RenderSpeeds(speeds, h.directory, h.engine, day)
}
