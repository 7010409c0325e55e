package seed

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Reloader rebuilds the in-memory topology after a reseed.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Syncer reseeds the store from a definition file and reloads the topology.
// With a watcher started it does so whenever the file changes.
type Syncer struct {
	path     string
	seeder   Seeder
	reloader Reloader
	log      *logger.Logger
	debounce time.Duration

	mu      sync.Mutex // serialises Sync
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSyncer creates a Syncer. An empty path syncs the built-in definition.
func NewSyncer(path string, seeder Seeder, reloader Reloader, log *logger.Logger) *Syncer {
	return &Syncer{
		path:     path,
		seeder:   seeder,
		reloader: reloader,
		log:      log.WithComponent("workflow-seed"),
		debounce: defaultDebounce,
	}
}

// Sync loads the definition, upserts it and reloads the topology. An invalid
// file leaves both the store and the running topology untouched.
func (s *Syncer) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, err := Load(s.path)
	if err != nil {
		return err
	}
	if err := Apply(ctx, s.seeder, def); err != nil {
		return err
	}
	s.warnUndeclared(ctx, def)
	if s.reloader != nil {
		if err := s.reloader.Reload(ctx); err != nil {
			return fmt.Errorf("seed: reload: %w", err)
		}
	}

	s.log.Info().
		Str("path", s.path).
		Int("stages", len(def.Stages)).
		Int("transitions", len(def.Transitions)).
		Msg("Workflow definition synced")
	return nil
}

// warnUndeclared logs every persisted edge the definition no longer lists.
// Such edges remain executable until an operator removes them from the store.
func (s *Syncer) warnUndeclared(ctx context.Context, def *Definition) {
	stale, err := s.seeder.UndeclaredTransitions(ctx, def.TransitionSpecs())
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not check for undeclared workflow transitions")
		return
	}
	for _, spec := range stale {
		s.log.Warn().
			Str("path", s.path).
			Str("from_stage", spec.FromCode).
			Str("to_stage", spec.ToCode).
			Str("guard", spec.GuardName).
			Int("position", spec.Position).
			Msg("Persisted transition is not in the workflow definition and stays live")
	}
}

// Watch starts watching the definition file. It is a no-op without a path.
// The watcher stops when ctx is cancelled or Close is called.
func (s *Syncer) Watch(ctx context.Context) error {
	if s.path == "" {
		s.log.Info().Msg("Workflow seed watcher disabled (built-in definition)")
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("seed: create watcher: %w", err)
	}
	// Watching the directory survives editors that save by renaming a new
	// file over the old one.
	dir := filepath.Dir(s.target())
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("seed: watch %s: %w", dir, err)
	}
	s.watcher = w
	s.done = make(chan struct{})

	s.log.Info().Str("path", s.path).Msg("Watching workflow definition for changes")
	go s.watchLoop(ctx)
	return nil
}

func (s *Syncer) target() string {
	return filepath.Clean(s.path)
}

func (s *Syncer) watchLoop(ctx context.Context) {
	defer close(s.done)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			_ = s.watcher.Close()
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.target() {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			s.log.Debug().Str("op", ev.Op.String()).Msg("Workflow definition changed")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(s.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if err := s.Sync(ctx); err != nil {
				s.log.Error().Err(err).Str("path", s.path).Msg("Automatic workflow reseed failed")
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error().Err(err).Msg("Workflow definition watcher error")
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (s *Syncer) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.done
	return err
}
