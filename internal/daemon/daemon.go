package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"trackerd/internal/config"
	"trackerd/internal/control"
	"trackerd/internal/crawler"
	trackerfs "trackerd/internal/fs"
	"trackerd/internal/extractor"
	"trackerd/internal/logging"
	"trackerd/internal/monitor"
	"trackerd/internal/ontology"
	"trackerd/internal/orchestrator"
	"trackerd/internal/pipeline"
	"trackerd/internal/rdfstore"
	"trackerd/internal/scheduler"
	"trackerd/internal/volume"
	"trackerd/internal/writeback"
)

// Daemon owns every subsystem's lifetime for one trackerd run.
type Daemon struct {
	cfg config.Config

	store   *rdfstore.Store
	sched   *scheduler.Scheduler
	mon     *monitor.Watcher
	vol     *volume.Manager
	wb      *writeback.Dispatcher
	orch    *orchestrator.Orchestrator
	ctl     *control.Server
	extract *extractor.Client

	metricsAddr string

	log zerolog.Logger
}

// Options configures one daemon instance.
type Options struct {
	DBPath     string
	SocketPath string
	Env        []string
	// ExtractorPath is the path to the out-of-process metadata extractor
	// binary, spawned once per Extract call (spec.md §4.8).
	ExtractorPath string
	// MetricsAddr, if non-empty, serves Prometheus metrics on this
	// "host:port" address.
	MetricsAddr string
}

// New assembles every subsystem. It does not start any goroutines; call
// Run to do that.
func New(ctx context.Context, opts Options) (*Daemon, error) {
	cfg, err := config.Load(opts.Env)
	if err != nil {
		return nil, fmt.Errorf("daemon: config: %w", err)
	}

	logging.Init(logging.Config{Verbosity: cfg.Verbosity})

	reg, err := ontology.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("daemon: ontology: %w", err)
	}

	store, err := rdfstore.Open(ctx, opts.DBPath, reg)
	if err != nil {
		return nil, fmt.Errorf("daemon: store: %w", err)
	}

	fsys := trackerfs.NewReal()

	ignoreExact, ignoreGlobs := config.ResolveIgnoreList(cfg.IgnoredDirectories)
	_, contentGlobs := config.ResolveIgnoreList(cfg.IgnoredDirectoriesWithContent)

	filters := crawler.Filters{
		ExactPaths:     toSet(ignoreExact),
		BasenameGlobs:  ignoreGlobs,
		ContentMarkers: contentGlobs,
	}

	lister := crawler.New(fsys, filters)
	sched := scheduler.New(lister)

	for _, dir := range cfg.IndexRecursiveDirectories {
		sched.AddModule(scheduler.Module{Name: "files", Root: crawler.RootConfig{Path: dir, Recursive: true}})
	}

	for _, dir := range cfg.IndexSingleDirectories {
		sched.AddModule(scheduler.Module{Name: "files", Root: crawler.RootConfig{Path: dir, Recursive: false}})
	}

	mon, err := monitor.New()
	if err != nil {
		return nil, fmt.Errorf("daemon: monitor: %w", err)
	}

	ex := extractor.New(spawnerFor(opts.ExtractorPath))

	wbPredicates := []string{"nie:title", "nie:keyword", "nco:fullname"}
	wb := writeback.New(noopWriter{}, wbPredicates)
	wb.Enable(cfg.EnableWriteback)

	proc := pipeline.New(store, ex, wb)

	vol := volume.New(store)

	miner := NewFilesMiner("files", sched, proc, logging.WithComponent("files-miner"))
	orch := orchestrator.New([]orchestrator.Miner{miner})

	ctl := control.NewServer(opts.SocketPath)

	d := &Daemon{
		cfg:     cfg,
		store:   store,
		sched:   sched,
		mon:     mon,
		vol:     vol,
		wb:      wb,
		orch:    orch,
		ctl:         ctl,
		extract:     ex,
		metricsAddr: opts.MetricsAddr,
		log:         logging.WithComponent("daemon"),
	}

	d.registerControlVerbs()

	return d, nil
}

// Run starts every background loop and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.vol.EnsureNonRemovable(ctx); err != nil {
		return fmt.Errorf("daemon: ensure non-removable volume: %w", err)
	}

	go d.wb.Run(ctx)
	go d.forwardOrchestratorEvents(ctx)
	go d.forwardMonitorIntents(ctx)
	go d.runGC(ctx)

	if d.metricsAddr != "" {
		go d.serveMetrics(ctx, d.metricsAddr)
	}

	errCh := make(chan error, 2)

	go func() {
		errCh <- d.ctl.Serve(ctx)
	}()

	go func() {
		errCh <- d.orch.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		d.mon.Close()
		return ctx.Err()
	case err := <-errCh:
		d.mon.Close()
		return err
	}
}

func (d *Daemon) forwardOrchestratorEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.orch.Events():
			if !ok {
				return
			}

			d.ctl.Broadcast(control.Event{Kind: ev.Kind, Data: ev.Module})
		}
	}
}

// forwardMonitorIntents re-enqueues monitor-reported changes as scheduler
// work (spec.md §4.2's live-update path feeding §4.5's queues).
func (d *Daemon) forwardMonitorIntents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-d.mon.Intents():
			if !ok {
				return
			}

			d.handleIntent(ctx, intent)
		}
	}
}

func (d *Daemon) handleIntent(ctx context.Context, intent monitor.Intent) {
	switch intent.Kind {
	case monitor.IntentRecheck:
		d.sched.EnqueueFile("files", crawler.Entry{Path: intent.Path})

	case monitor.IntentMove:
		buf := rdfstore.NewBuffer(d.store, d.sched.QueueLen)
		if err := buf.Begin(ctx); err != nil {
			d.log.Warn().Err(err).Msg("monitor-move-begin-failed")
			return
		}

		if err := buf.UpdateURI("file://"+intent.Path, "file://"+intent.NewPath); err != nil {
			_ = buf.Rollback()
			d.log.Warn().Err(err).Str("path", intent.Path).Msg("monitor-move-failed")
			return
		}

		if err := buf.Commit(); err != nil {
			d.log.Warn().Err(err).Str("path", intent.Path).Msg("monitor-move-commit-failed")
		}

	case monitor.IntentRemove:
		d.sched.CancelUnder(intent.Path)

		buf := rdfstore.NewBuffer(d.store, d.sched.QueueLen)
		if err := buf.Begin(ctx); err != nil {
			d.log.Warn().Err(err).Msg("monitor-remove-begin-failed")
			return
		}

		interp := rdfstore.NewInterpreter(buf, nil)
		if err := interp.Delete("file://"+intent.Path, "rdf:type", ontology.RootClassURI); err != nil {
			_ = buf.Rollback()
			d.log.Warn().Err(err).Str("path", intent.Path).Msg("monitor-remove-failed")
			return
		}

		if err := buf.Commit(); err != nil {
			d.log.Warn().Err(err).Str("path", intent.Path).Msg("monitor-remove-commit-failed")
		}
	}
}

// runGC runs the removable-volume GC sweep once a day (spec.md §6's
// removable-days-threshold).
func (d *Daemon) runGC(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.vol.GC(ctx, d.cfg.RemovableDaysThreshold); err != nil {
				d.log.Warn().Err(err).Msg("volume-gc-failed")
			}
		}
	}
}

func spawnerFor(extractorPath string) extractor.Spawner {
	return func(ctx context.Context, url, mimeType string) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, extractorPath, url, mimeType), nil
	}
}

func toSet(entries []string) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[e] = true
	}

	return set
}

type noopWriter struct{}

func (noopWriter) Write(ctx context.Context, ev writeback.Event) error { return nil }

// registerControlVerbs wires the control socket's nine verbs (spec.md §6)
// onto the orchestrator/scheduler.
func (d *Daemon) registerControlVerbs() {
	d.ctl.Register("start", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, nil
	})

	d.ctl.Register("pause", func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			Reason string `json:"reason"`
		}

		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("pause: %w", err)
		}

		d.orch.Pause(req.Reason)
		d.sched.Pause(req.Reason)

		return nil, nil
	})

	d.ctl.Register("continue", func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			Reason string `json:"reason"`
		}

		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("continue: %w", err)
		}

		d.orch.Continue(req.Reason)
		d.sched.Continue(req.Reason)

		return nil, nil
	})

	d.ctl.Register("stop", func(ctx context.Context, _ json.RawMessage) (any, error) {
		d.orch.Stop()
		d.sched.Stop()

		return nil, nil
	})

	d.ctl.Register("status", func(ctx context.Context, _ json.RawMessage) (any, error) {
		processed, indexed, remaining := d.sched.Stats()
		return map[string]int{"processed": processed, "indexed": indexed, "remaining": remaining}, nil
	})

	d.ctl.Register("check_files", func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			Paths []string `json:"paths"`
		}

		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("check_files: %w", err)
		}

		for _, p := range req.Paths {
			d.sched.EnqueueFile("files", crawler.Entry{Path: p})
		}

		return nil, nil
	})

	d.ctl.Register("index_file", func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			URI string `json:"uri"`
		}

		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("index_file: %w", err)
		}

		d.sched.EnqueueFile("files", crawler.Entry{Path: req.URI})

		return nil, nil
	})

	d.ctl.Register("move_file", func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			From string `json:"from"`
			To   string `json:"to"`
		}

		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("move_file: %w", err)
		}

		buf := rdfstore.NewBuffer(d.store, d.sched.QueueLen)
		if err := buf.Begin(ctx); err != nil {
			return nil, err
		}

		if err := buf.UpdateURI("file://"+req.From, "file://"+req.To); err != nil {
			_ = buf.Rollback()
			return nil, err
		}

		return nil, buf.Commit()
	})

	d.ctl.Register("reindex_by_mime_type", func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			Mimes []string `json:"mimes"`
		}

		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("reindex_by_mime_type: %w", err)
		}

		uris, err := d.resourcesByMime(ctx, req.Mimes)
		if err != nil {
			return nil, err
		}

		for _, uri := range uris {
			d.sched.EnqueueFile("files", crawler.Entry{Path: filepath.FromSlash(uri[len("file://"):])})
		}

		return len(uris), nil
	})
}

func (d *Daemon) resourcesByMime(ctx context.Context, mimes []string) ([]string, error) {
	if len(mimes) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]any, 0, len(mimes))

	for i, m := range mimes {
		if i > 0 {
			placeholders += ","
		}

		placeholders += "?"
		args = append(args, m)
	}

	rows, err := d.store.DB().QueryContext(ctx, `
		SELECT r.uri FROM "nie:DataObject" d
		JOIN "Resource" r ON r.id = d.id
		WHERE d."mimeType" IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("daemon: reindex_by_mime_type: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}

		out = append(out, uri)
	}

	return out, rows.Err()
}
