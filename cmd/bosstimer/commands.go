package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/bosstimer/internal/health"
	"github.com/jensholdgaard/bosstimer/internal/record"
	"github.com/jensholdgaard/bosstimer/internal/respawn"
	"github.com/jensholdgaard/bosstimer/internal/tracker"
	"github.com/jensholdgaard/bosstimer/internal/watch"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"bosses":  cmdBosses,
	"respawn": cmdRespawn,
	"add":     cmdAdd,
	"update":  cmdUpdate,
	"delete":  cmdDelete,
	"list":    cmdList,
	"today":   cmdToday,
	"board":   cmdBoard,
	"purge":   cmdPurge,
	"export":  cmdExport,
	"import":  cmdImport,
	"migrate": cmdMigrate,
	"watch":   cmdWatch,
}

const timeFormat = "2006-01-02 15:04"

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func (a *app) parseTime(s string) (time.Time, error) {
	return parseKillInput(s, a.clock.Now(), a.store.Location())
}

var clockLayouts = []string{"15:04:05", "15:04"}

// parseKillInput reads a full timestamp, or a bare time of day taken as
// today's date in loc.
func parseKillInput(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, ok := respawn.ParseKillTime(s, loc); ok {
		return t, nil
	}
	for _, layout := range clockLayouts {
		c, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		y, m, d := now.In(loc).Date()
		return time.Date(y, m, d, c.Hour(), c.Minute(), c.Second(), 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
}

func (a *app) formatTime(t time.Time) string {
	return t.In(a.store.Location()).Format(timeFormat)
}

func (a *app) formatRespawn(r respawn.Result) string {
	if !r.Valid {
		return "-"
	}
	parts := make([]string, len(r.Times))
	for i, t := range r.Times {
		parts[i] = a.formatTime(t)
	}
	return strings.Join(parts, " ~ ")
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Truncate(time.Minute).String()
}

func cmdBosses(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("bosses")
	q := fs.String("q", "", "filter by name or respawn text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w := a.table()
	fmt.Fprintln(w, "ID\tNAME\tRULE")
	for _, r := range a.catalog.Search(*q) {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.DisplayName(), r.Describe())
	}
	return w.Flush()
}

func cmdRespawn(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("respawn")
	bossID := fs.String("boss", "", "boss id")
	at := fs.String("at", "", "kill time, full or HH:MM for today (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rule, err := a.catalog.Lookup(*bossID)
	if err != nil {
		return err
	}
	now := a.clock.Now()
	var res respawn.Result
	if *at == "" {
		res = respawn.Compute(now, rule)
	} else {
		res = respawn.ComputeString(*at, rule, a.store.Location())
	}
	if !res.Valid {
		return fmt.Errorf("no respawn prediction for %s: %s", rule.DisplayName(), rule.Describe())
	}
	fmt.Fprintf(a.out, "%s\t%s\t%s\n", rule.DisplayName(), a.formatRespawn(res), respawn.Classify(res, now))
	return nil
}

func cmdAdd(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("add")
	bossID := fs.String("boss", "", "boss id")
	at := fs.String("at", "", "kill time, full or HH:MM for today (default now)")
	channel := fs.Int("channel", 0, "channel number")
	looted := fs.Bool("looted", false, "loot was taken")
	note := fs.String("note", "", "free-form note")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ts, err := a.parseTime(*at)
	if err != nil {
		return err
	}
	e, err := a.tracker.LogKill(ctx, tracker.KillInput{
		BossID:  *bossID,
		At:      ts,
		Channel: *channel,
		Looted:  *looted,
		Note:    *note,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\t%s\n", e.Record.ID, e.BossName, a.formatRespawn(e.Respawn))
	return nil
}

func cmdUpdate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("update")
	id := fs.String("id", "", "record id")
	bossID := fs.String("boss", "", "new boss id")
	at := fs.String("at", "", "new kill time")
	channel := fs.Int("channel", 0, "new channel")
	looted := fs.Bool("looted", false, "new looted flag")
	note := fs.String("note", "", "new note")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var p record.Patch
	var visitErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "boss":
			p.BossID = bossID
		case "at":
			ts, err := a.parseTime(*at)
			if err != nil {
				visitErr = err
				return
			}
			p.Timestamp = &ts
		case "channel":
			p.Channel = channel
		case "looted":
			p.Looted = looted
		case "note":
			p.Note = note
		}
	})
	if visitErr != nil {
		return visitErr
	}
	if p.IsEmpty() {
		return errors.New("nothing to update")
	}

	e, err := a.tracker.Edit(ctx, *id, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\t%s\n", e.Record.ID, e.BossName, a.formatTime(e.Record.Timestamp))
	return nil
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("delete")
	id := fs.String("id", "", "record id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ok, err := a.tracker.Remove(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", record.ErrNotFound, *id)
	}
	fmt.Fprintln(a.out, "deleted", *id)
	return nil
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("list")
	var q record.Query
	fs.StringVar(&q.BossID, "boss", "", "only this boss")
	fs.StringVar(&q.Date, "date", "", "only this day (YYYY-MM-DD); overrides -from and -to")
	fs.StringVar(&q.StartDate, "from", "", "first day (YYYY-MM-DD)")
	fs.StringVar(&q.EndDate, "to", "", "last day (YYYY-MM-DD)")
	channel := fs.Int("channel", 0, "only this channel")
	looted := fs.String("looted", "", "only looted (true) or not looted (false)")
	sortKey := fs.String("sort", "", "timestamp, channel, looted, note, bossName or respawnEarliest")
	desc := fs.Bool("desc", false, "sort descending")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *channel != 0 {
		q.Channel = channel
	}
	switch *looted {
	case "":
	case "true", "false":
		v := *looted == "true"
		q.Looted = &v
	default:
		return fmt.Errorf("-looted must be true or false, got %q", *looted)
	}
	if *sortKey != "" {
		q.Sort = record.Sort{Key: record.SortKey(*sortKey), Desc: *desc}
	}

	entries, err := a.tracker.List(ctx, q)
	if err != nil {
		return err
	}
	return a.printEntries(entries)
}

func cmdToday(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("today")
	bossID := fs.String("boss", "", "boss id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.catalog.Lookup(*bossID); err != nil {
		return err
	}

	entries, err := a.tracker.Today(ctx, *bossID)
	if err != nil {
		return err
	}
	return a.printEntries(entries)
}

func (a *app) printEntries(entries []tracker.Entry) error {
	w := a.table()
	fmt.Fprintln(w, "ID\tBOSS\tKILLED\tCH\tLOOTED\tRESPAWN\tSTATUS\tNOTE")
	for _, e := range entries {
		r := e.Record
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\t%s\t%s\n",
			r.ID, e.BossName, a.formatTime(r.Timestamp), r.Channel, r.Looted,
			a.formatRespawn(e.Respawn), e.Status, r.Note)
	}
	return w.Flush()
}

func cmdBoard(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("board")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rows, err := a.tracker.Board(ctx)
	if err != nil {
		return err
	}
	w := a.table()
	fmt.Fprintln(w, "BOSS\tLAST KILL\tRESPAWN\tSTATUS\tIN")
	for _, row := range rows {
		last := "-"
		if row.Last != nil {
			last = a.formatTime(row.Last.Timestamp)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			row.Boss.DisplayName(), last, a.formatRespawn(row.Respawn), row.Status, formatRemaining(row.Remaining))
	}
	return w.Flush()
}

func cmdPurge(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("purge")
	bossID := fs.String("boss", "", "boss id (default every catalog boss)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ids := a.catalog.IDs()
	if *bossID != "" {
		ids = []string{*bossID}
	}
	total := 0
	for _, id := range ids {
		n, err := a.store.PurgeIfNeeded(ctx, id)
		if err != nil {
			return err
		}
		total += n
	}
	fmt.Fprintf(a.out, "purged %d records (cap %d per boss)\n", total, a.store.MaxPerBoss())
	return nil
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("export")
	out := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := a.store.ExportAll(ctx)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = a.out.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(filepath.Clean(*out), data, 0o600); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	return nil
}

func cmdImport(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("import")
	in := fs.String("i", "-", "snapshot file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var data []byte
	var err error
	if *in == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(filepath.Clean(*in))
	}
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	res, err := a.store.ImportAll(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "imported %d records (%d re-keyed, %d purged)\n", res.Imported, res.Reassigned, res.Purged)
	return nil
}

func cmdMigrate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("migrate")
	key := fs.String("key", a.cfg.Storage.LegacyKey, "legacy storage key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.store.MigrateLegacy(ctx, *key)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "migrated %d records from %s\n", res.Imported, *key)
	return nil
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("watch")
	schedule := fs.String("schedule", a.cfg.Watch.Schedule, "cron schedule")
	healthAddr := fs.String("health-addr", a.cfg.Watch.HealthAddr, "serve /healthz and /readyz on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w := watch.New(a.tracker, *schedule, func(_ context.Context, c watch.Change) {
		fmt.Fprintf(a.out, "%s\t%s -> %s\t%s\n",
			c.Row.Boss.DisplayName(), c.From, c.Row.Status, a.formatRespawn(c.Row.Respawn))
	}, a.logger, a.tp.TracerProvider)

	hh := health.NewHandler(a.clock)
	hh.Add("storage", a.backend.Ping)
	hh.Add("watch", func(context.Context) error { return w.Err() })
	if err := w.Start(ctx); err != nil {
		return err
	}
	hh.SetReady(true)
	a.logger.InfoContext(ctx, "watching respawns", slog.String("schedule", *schedule))

	g, gCtx := errgroup.WithContext(ctx)
	if *healthAddr != "" {
		g.Go(func() error {
			return health.Serve(gCtx, *healthAddr, hh, a.logger)
		})
	}
	g.Go(func() error {
		<-gCtx.Done()
		hh.SetReady(false)

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		w.Stop(stopCtx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("serving health: %w", err)
	}
	return nil
}
