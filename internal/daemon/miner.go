// Package daemon assembles the store, crawler, scheduler, extractor,
// volume manager, writeback dispatcher, and control surface into the
// running trackerd process, wiring each into the orchestrator's miner
// list (spec.md §4.10).
//
// Grounded on: the teacher's cmd/tk/main.go + internal/cli.Run wiring
// style (env/signal plumbing handed to a single entry function), adapted
// from a one-shot CLI invocation to a long-running daemon loop.
package daemon

import (
	"context"
	"errors"
	"mime"
	"path/filepath"

	"github.com/rs/zerolog"

	"trackerd/internal/extractor"
	"trackerd/internal/pipeline"
	"trackerd/internal/scheduler"
	"trackerd/internal/volume"
)

// FilesMiner drains the scheduler's file/directory queues, running every
// file through the pipeline processor, until the module list is exhausted
// (spec.md §4.10's per-miner "finished" contract).
type FilesMiner struct {
	name  string
	sched *scheduler.Scheduler
	proc  *pipeline.Processor
	log   zerolog.Logger
}

// NewFilesMiner returns a Miner named name draining sched through proc.
func NewFilesMiner(name string, sched *scheduler.Scheduler, proc *pipeline.Processor, log zerolog.Logger) *FilesMiner {
	return &FilesMiner{name: name, sched: sched, proc: proc, log: log}
}

// Name implements orchestrator.Miner.
func (m *FilesMiner) Name() string { return m.name }

// Run implements orchestrator.Miner: drains sched.Next until Finished or
// ctx is cancelled, running each file through the pipeline.
func (m *FilesMiner) Run(ctx context.Context) error {
	for {
		work, err := m.sched.Next(ctx)
		if err != nil {
			if errors.Is(err, scheduler.ErrStopped) {
				return nil
			}

			return err
		}

		if work.Finished {
			return nil
		}

		mimeType := mimeTypeOf(work.Entry.Path)

		if err := m.proc.ProcessFile(ctx, work.Module, work.Entry, volume.NonRemovableURN, mimeType); err != nil {
			if errors.Is(err, pipeline.ErrCancelled) {
				continue
			}

			if errors.Is(err, extractor.ErrTimeout) || errors.Is(err, extractor.ErrProtocol) {
				// spec.md §7: extractor failures never abort the miner.
				m.log.Warn().Err(err).Str("path", work.Entry.Path).Msg("extractor-failed")
				m.sched.IncrementProcessed()

				continue
			}

			m.log.Warn().Err(err).Str("path", work.Entry.Path).Msg("file-failed")
			m.sched.IncrementProcessed()

			continue
		}

		m.sched.IncrementProcessed()
		m.sched.IncrementIndexed()
	}
}

// mimeTypeOf sniffs a MIME type from path's extension, falling back to a
// generic binary type (spec.md §4.6 never mandates content sniffing for
// the base-triple stage; the extractor itself inspects content).
func mimeTypeOf(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}

	return "application/octet-stream"
}
