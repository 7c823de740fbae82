// statctl is an interactive console for inspecting recorded statistics
// directly from a data directory, without going through the daemon.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/statbot/internal/config"
	"github.com/xtxerr/statbot/internal/directory"
	"github.com/xtxerr/statbot/internal/handler"
	"github.com/xtxerr/statbot/internal/logging"
	"github.com/xtxerr/statbot/internal/report"
	"github.com/xtxerr/statbot/internal/store"
)

// localSender is the identity statctl runs commands under. It is granted
// supervisor rights unconditionally; access control is the daemon's job.
const localSender = "statctl"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	// Quiet by default; the console output is the report text itself.
	logging.Init(logging.ParseLevel("error"), false)

	st, err := store.New(store.Options{
		DataDir:        cfg.DataDir,
		UsersTemplate:  cfg.Statistic.UsersLog,
		StatsTemplate:  cfg.Statistic.StatsLog,
		SpeedsTemplate: cfg.Statistic.SpeedsLog,
	})
	if err != nil {
		log.Fatalf("Open store: %v", err)
	}

	dir := directory.New(directory.NullResolver{}, cfg.Directory.CacheTTL)
	engine := report.NewEngine(st, report.PercentileOptions{
		Enabled:  cfg.Features.Percentile.Enabled,
		Accuracy: cfg.Features.Percentile.Accuracy,
		Quantile: cfg.Features.Percentile.Quantile,
	})
	h := handler.New(engine, dir, []string{localSender})

	fmt.Printf("statctl (data_dir=%s) - type 'quit' to exit\n", cfg.DataDir)

	p := prompt.New(
		func(in string) { execute(h, in) },
		completer,
		prompt.OptionPrefix("statctl> "),
		prompt.OptionTitle("statctl"),
	)
	p.Run()
}

func execute(h *handler.Handler, in string) {
	switch in {
	case "quit", "exit":
		fmt.Println("bye")
		os.Exit(0)
	case "":
		return
	}

	reply := h.Handle(localSender, in)
	if reply == "" {
		fmt.Printf("unknown command: %s\n", in)
		return
	}
	fmt.Println(reply)
}

func completer(d prompt.Document) []prompt.Suggest {
	suggestions := []prompt.Suggest{
		{Text: "users", Description: "List active users for a day (users [YYYY-MM-DD])"},
		{Text: "speeds", Description: "Show response time report for a day (speeds [YYYY-MM-DD])"},
		{Text: "quit", Description: "Exit"},
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}
