// Command ticketwatch polls a ticket service and prints the assigned (or,
// with --view all, every) ticket list whenever it changes, with per-status
// totals. It is a terminal consumer of the sync client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/peopledesk/ticketd/internal/domain"
	"github.com/peopledesk/ticketd/pkg/syncclient"
)

type watchConfig struct {
	Server   string        `yaml:"server"`
	Token    string        `yaml:"token"`
	Email    string        `yaml:"email"`
	Password string        `yaml:"password"`
	Interval time.Duration `yaml:"interval"`
	View     string        `yaml:"view"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ticketwatch:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := watchConfig{
		Server:   "http://localhost:3000",
		Interval: syncclient.DefaultPollInterval,
		View:     "my",
	}

	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.StringVar(&cfg.Server, "server", cfg.Server, "ticket service base URL")
	pflag.StringVar(&cfg.Token, "token", cfg.Token, "bearer token (skips login)")
	pflag.StringVar(&cfg.Email, "email", cfg.Email, "login email")
	pflag.StringVar(&cfg.Password, "password", cfg.Password, "login password")
	pflag.DurationVar(&cfg.Interval, "interval", cfg.Interval, "poll interval")
	pflag.StringVar(&cfg.View, "view", cfg.View, "which list to watch: my or all")
	pflag.Parse()

	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			return err
		}
		// Flags given on the command line win over the file.
		pflag.Parse()
	}
	if cfg.View != "my" && cfg.View != "all" {
		return fmt.Errorf("unknown view %q (want my or all)", cfg.View)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := syncclient.NewClient(cfg.Server, syncclient.WithToken(cfg.Token))
	if cfg.Token == "" {
		if cfg.Email == "" || cfg.Password == "" {
			return fmt.Errorf("either --token or --email and --password are required")
		}
		if _, err := api.Login(ctx, cfg.Email, cfg.Password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	cache := syncclient.NewCache()
	var opts []syncclient.FeedOption
	key := syncclient.KeyMyTickets
	if cfg.View == "all" {
		opts = append(opts, syncclient.WithAggregateView())
		key = syncclient.KeyAllTickets
	}
	feed := syncclient.NewTicketFeed(api, cache, opts...)

	printer := &tablePrinter{out: os.Stdout}
	poller := syncclient.NewPoller(cfg.Interval, func(ctx context.Context) {
		feed.Refresh(ctx)
		printer.render(feed, key)
	})
	poller.Run(ctx)
	return nil
}

func loadConfig(path string, cfg *watchConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type tablePrinter struct {
	out      *os.File
	lastSeen time.Time
	lastErr  string
}

// render prints the list when the snapshot moved since the last print, and
// reports fetch errors without dropping the stale listing.
func (p *tablePrinter) render(feed *syncclient.TicketFeed, key string) {
	tickets, snap := feed.Tickets(key)

	if snap.Err != nil {
		msg := snap.Err.Error()
		if msg != p.lastErr {
			p.lastErr = msg
			fmt.Fprintf(p.out, "! fetch failed: %s", msg)
			if snap.HasValue() {
				fmt.Fprintf(p.out, " (showing data from %s)", snap.UpdatedAt.Format(time.TimeOnly))
			}
			fmt.Fprintln(p.out)
		}
		return
	}
	p.lastErr = ""
	if !snap.UpdatedAt.After(p.lastSeen) {
		return
	}
	p.lastSeen = snap.UpdatedAt

	counts := feed.Counts(key)
	fmt.Fprintf(p.out, "\n%s  pending=%d ongoing=%d awaiting=%d finished=%d\n",
		snap.UpdatedAt.Format(time.TimeOnly),
		counts[domain.TicketStatusPending],
		counts[domain.TicketStatusOngoing],
		counts[domain.TicketStatusAwaitingConfirmation],
		counts[domain.TicketStatusFinished],
	)

	w := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tUPDATED")
	for _, t := range tickets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(t.ID), t.Status, truncate(t.Title, 48), t.UpdatedAt.Format(time.TimeOnly))
	}
	w.Flush()
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
