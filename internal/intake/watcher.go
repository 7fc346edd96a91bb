package intake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/render"
)

const (
	doneDir   = "done"
	failedDir = "failed"
)

// Renderer is satisfied by *render.Pipeline.
type Renderer interface {
	Render(ctx context.Context, job render.Job) (render.Result, error)
}

// Service watches a directory for render manifests. Each manifest is rendered
// once and then moved to done/ or failed/ together with an outcome file.
type Service struct {
	cfg      config.IntakeConfig
	renderer Renderer
	watcher  *fsnotify.Watcher
	queue    chan string

	mu      sync.Mutex
	pending map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.IntakeConfig, renderer Renderer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		renderer: renderer,
		queue:    make(chan string, 64),
		pending:  make(map[string]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "intake")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	for _, dir := range []string{s.cfg.Directory, s.path(doneDir), s.path(failedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create intake directory: %w", err)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.cfg.Directory); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.cfg.Directory, err)
	}
	s.watcher = w

	s.wg.Add(2)
	go s.watch()
	go s.work()

	// Manifests dropped while the daemon was down.
	existing, err := s.sweep()
	if err != nil {
		s.logger.Warn("failed to scan intake directory", slogError(err))
	}
	for _, path := range existing {
		s.schedule(path)
	}

	s.logger.Info("intake watcher started", slog.String("directory", s.cfg.Directory), slog.Int("queued", len(existing)))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	s.mu.Lock()
	for path, t := range s.pending {
		t.Stop()
		delete(s.pending, path)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.watcher != nil }

func (s *Service) path(name string) string {
	return filepath.Join(s.cfg.Directory, name)
}

func (s *Service) sweep() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Directory)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isManifest(e.Name()) {
			continue
		}
		out = append(out, s.path(e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) watch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Dir(event.Name) != filepath.Clean(s.cfg.Directory) || !isManifest(event.Name) {
				continue
			}
			s.schedule(event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", slogError(err))
		}
	}
}

// schedule waits for the file to settle. Every further write restarts the
// timer so half-written manifests are not picked up.
func (s *Service) schedule(path string) {
	settle := time.Duration(s.cfg.SettleMS) * time.Millisecond
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[path]; ok {
		t.Reset(settle)
		return
	}
	s.pending[path] = time.AfterFunc(settle, func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
		select {
		case s.queue <- path:
		case <-s.ctx.Done():
		}
	})
}

func (s *Service) work() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case path := <-s.queue:
			s.process(path)
		}
	}
}

func (s *Service) process(path string) {
	if _, err := os.Stat(path); err != nil {
		// Already moved by an earlier run.
		return
	}
	log := s.logger.With(slog.String("manifest", filepath.Base(path)))

	res, err := s.render(path)
	out := Outcome{JobID: res.JobID, OK: err == nil}
	dest := doneDir
	if err != nil {
		if failure.KindOf(err) == failure.Canceled && s.ctx.Err() != nil {
			// Shutdown; leave the manifest for the next start.
			log.Info("render interrupted by shutdown")
			return
		}
		dest = failedDir
		out.ErrorKind = string(failure.KindOf(err))
		out.Error = failure.Cause(err)
		log.Warn("manifest render failed", slog.String("job_id", res.JobID), slog.String("kind", out.ErrorKind), slogError(err))
	} else {
		out.OutputPath = res.OutputPath
		out.Duration = res.Duration
		out.Scenes = res.Scenes
		out.Clamped = res.Clamped
		log.Info("manifest rendered", slog.String("job_id", res.JobID), slog.String("output", res.OutputPath))
	}

	if err := s.archive(path, dest, out); err != nil {
		log.Error("failed to archive manifest", slogError(err))
	}
}

func (s *Service) render(path string) (render.Result, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return render.Result{}, failure.New(failure.InvalidInput, "load manifest", err)
	}
	if m.ID == "" {
		m.ID = render.NewJobID()
	}
	job, err := m.Request(filepath.Dir(path), time.Now().UTC()).Job()
	if err != nil {
		return render.Result{JobID: m.ID}, err
	}
	res, err := s.renderer.Render(s.ctx, job)
	if res.JobID == "" {
		res.JobID = job.ID
	}
	return res, err
}

func (s *Service) archive(path, dest string, out Outcome) error {
	name := filepath.Base(path)
	target := filepath.Join(s.path(dest), name)
	if err := os.Rename(path, target); err != nil {
		return err
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return writeOutcome(filepath.Join(s.path(dest), base+".outcome.yaml"), out)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
