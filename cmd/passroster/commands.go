package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samber/mo"

	"passroster/internal/config"
	"passroster/internal/ics"
	appLog "passroster/internal/log"
	"passroster/internal/model"
	"passroster/internal/recurrence"
	"passroster/internal/schedule"
	"passroster/internal/web"
)

// readRule returns the rule from -rule, or from -file ("-" is stdin).
func readRule(rule, file string, stdin io.Reader) (string, error) {
	switch {
	case rule != "" && file != "":
		return "", errors.New("use either -rule or -file")
	case rule != "":
		// Shells make literal "\n" easier to type than newlines.
		return strings.ReplaceAll(rule, `\n`, "\n"), nil
	case file == "-":
		data, err := io.ReadAll(stdin)
		return string(data), err
	case file != "":
		data, err := os.ReadFile(file)
		return string(data), err
	default:
		return "", errors.New("a rule is required (-rule or -file)")
	}
}

func runValidate(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	rule := fs.String("rule", "", "rule text; \\n separates lines")
	file := fs.String("file", "", "read the rule from a file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	text, err := readRule(*rule, *file, stdin)
	if err != nil {
		return err
	}
	if err := schedule.Validate(text); err != nil {
		return exitError{code: 1, msg: err.Error()}
	}
	fmt.Fprintln(stdout, "valid")
	return nil
}

// windowFlags registers the window flags shared by expand and ics.
type windowFlags struct {
	after, before string
	inclusive     bool
	maxIterations int
}

func (w *windowFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&w.after, "after", "", "window start, epoch ms or RFC 3339")
	fs.StringVar(&w.before, "before", "", "window end, epoch ms or RFC 3339")
	fs.BoolVar(&w.inclusive, "inclusive", false, "include occurrences at exactly -before")
	fs.IntVar(&w.maxIterations, "max-iterations", recurrence.DefaultMaxIterations, "candidates examined before giving up")
}

func (w *windowFlags) window() (recurrence.Window, error) {
	if w.after == "" || w.before == "" {
		return recurrence.Window{}, errors.New("-after and -before are required")
	}
	after, err := model.ParseInstant(w.after)
	if err != nil {
		return recurrence.Window{}, fmt.Errorf("-after: %w", err)
	}
	before, err := model.ParseInstant(w.before)
	if err != nil {
		return recurrence.Window{}, fmt.Errorf("-before: %w", err)
	}
	return recurrence.Window{After: after.Time(), Before: before.Time(), Inclusive: w.inclusive}, nil
}

func runExpand(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("expand", flag.ContinueOnError)
	rule := fs.String("rule", "", "rule text; \\n separates lines")
	file := fs.String("file", "", "read the rule from a file, - for stdin")
	duration := fs.Int("duration", 0, "event duration in minutes")
	until := fs.String("until", "", "inclusive cutoff for the event, epoch ms or RFC 3339")
	format := fs.String("format", "iso", "output format: millis, iso or json")
	var wf windowFlags
	wf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	text, err := readRule(*rule, *file, os.Stdin)
	if err != nil {
		return err
	}
	w, err := wf.window()
	if err != nil {
		return err
	}

	req := schedule.Request{Rule: text, Window: w, DurationMinutes: *duration}
	if *until != "" {
		u, err := model.ParseInstant(*until)
		if err != nil {
			return fmt.Errorf("-until: %w", err)
		}
		req.Until = mo.Some(u.Time())
	}

	flat, err := schedule.Expand(req, schedule.Options{MaxIterations: wf.maxIterations})
	if err != nil {
		return exitError{code: 1, msg: fmt.Sprintf("%s error: %v", schedule.Kind(err), err)}
	}

	switch *format {
	case "millis":
		for i := 0; i < len(flat); i += 2 {
			fmt.Fprintf(stdout, "%d %d\n", flat[i], flat[i+1])
		}
	case "iso":
		for i := 0; i < len(flat); i += 2 {
			fmt.Fprintf(stdout, "%s %s\n", isoMillis(flat[i]), isoMillis(flat[i+1]))
		}
	case "json":
		return json.NewEncoder(stdout).Encode(flat)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}

func isoMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func runICS(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("ics", flag.ContinueOnError)
	file := fs.String("file", "", "path of the .ics file")
	asJSON := fs.Bool("json", false, "print occurrences as JSON")
	var wf windowFlags
	wf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}
	w, err := wf.window()
	if err != nil {
		return err
	}

	body, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	events, err := ics.Parse(ics.Source{ID: *file}, body)
	if err != nil {
		return err
	}
	svc, err := schedule.NewService(schedule.Options{MaxIterations: wf.maxIterations}, 0)
	if err != nil {
		return err
	}
	res, err := ics.ExpandOccurrences(svc, events, w)
	if err != nil {
		return err
	}

	if *asJSON {
		return json.NewEncoder(stdout).Encode(res.Occurrences)
	}
	for _, occ := range res.Occurrences {
		fmt.Fprintf(stdout, "%s %s %s\n", occ.Start.Format(time.RFC3339), occ.End.Format(time.RFC3339), occ.Summary)
	}
	if len(res.FailedUIDs) > 0 {
		return exitError{code: 1, msg: "failed to expand: " + strings.Join(res.FailedUIDs, ", ")}
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "./passroster.yaml", "path to config file")
	listen := fs.String("listen", "", "HTTP listen address (overrides config if set)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	conf, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := conf.ApplyEnv(); err != nil {
		return err
	}
	if *listen != "" {
		conf.Listen = *listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"log_level", conf.LogLevel,
		"max_iterations", conf.Engine.MaxIterations,
		"cache_size", conf.Engine.CacheSize,
		"refresh", conf.RefreshCron,
		"feeds", len(conf.Feeds),
	)

	svc, err := schedule.NewService(schedule.Options{MaxIterations: conf.Engine.MaxIterations}, conf.Engine.CacheSize)
	if err != nil {
		return err
	}

	var store *ics.Store
	if len(conf.Feeds) > 0 {
		sources := make([]ics.Source, 0, len(conf.Feeds))
		for _, f := range conf.Feeds {
			if f.URL == "" {
				continue
			}
			sources = append(sources, ics.Source{ID: f.ID, URL: f.URL})
		}
		store = ics.NewStore(ics.NewFetcher(conf.CacheDir, nil), sources)
		if err := store.Refresh(ctx); err != nil {
			appLog.Warn("initial feed refresh incomplete", "err", err)
		}
		if err := store.Start(ctx, conf.RefreshCron); err != nil {
			return err
		}
		defer store.Stop()
	}

	return web.NewServer(conf, svc, store).Run(ctx)
}
