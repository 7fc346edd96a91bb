package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/textreel/internal/access"
	"github.com/loqalabs/textreel/internal/bus"
	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/protocol"
	"github.com/loqalabs/textreel/internal/render"
	"github.com/nats-io/nats.go"
)

// outcomeStream keeps render.done messages for consumers that were offline.
const outcomeStream = "RENDER_OUTCOMES"

const drainTimeout = 5 * time.Second

// Renderer is satisfied by *render.Pipeline.
type Renderer interface {
	Render(ctx context.Context, job render.Job) (render.Result, error)
}

// Service consumes render requests from the bus and runs them with bounded
// concurrency.
type Service struct {
	cfg      config.JobsConfig
	bus      *bus.Client
	renderer Renderer
	sub      *nats.Subscription
	sem      chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu      sync.Mutex
	closing bool
}

func NewService(parent context.Context, cfg config.JobsConfig, busClient *bus.Client, renderer Renderer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		renderer: renderer,
		sem:      make(chan struct{}, limit),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "render-jobs")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.bus.EnsureStream(outcomeStream, []string{protocol.SubjectRenderDone}, 7*24*time.Hour); err != nil {
		s.logger.Warn("render outcomes will not be persisted", slogError(err))
	}
	sub, err := s.bus.Subscribe(protocol.SubjectRenderRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("render job service started", slog.Int("max_concurrency", cap(s.sem)))
	return nil
}

// Close stops accepting requests and returns once every admitted render has
// finished. Requests still in flight on the subscription are answered as canceled.
func (s *Service) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	if s.sub != nil {
		if err := s.sub.Drain(); err == nil {
			deadline := time.Now().Add(drainTimeout)
			for s.sub.IsValid() && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
		}
		if s.sub.IsValid() {
			s.logger.Warn("render request subscription did not drain in time")
			_ = s.sub.Unsubscribe()
		}
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.RenderRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode render request", slogError(err))
		s.finish(msg, render.Result{}, failure.New(failure.InvalidInput, "decode request", err))
		return
	}
	if req.JobID == "" {
		req.JobID = render.NewJobID()
	}

	job, err := toRequest(req).Job()
	if err != nil {
		s.finish(msg, render.Result{JobID: req.JobID}, err)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.finish(msg, render.Result{JobID: job.ID}, failure.New(failure.Canceled, "queue", context.Canceled))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			s.finish(msg, render.Result{JobID: job.ID}, failure.New(failure.Canceled, "queue", s.ctx.Err()))
			return
		}
		defer func() { <-s.sem }()
		if err := s.ctx.Err(); err != nil {
			s.finish(msg, render.Result{JobID: job.ID}, failure.New(failure.Canceled, "queue", err))
			return
		}

		ctx := s.ctx
		if s.cfg.TimeoutMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
			defer cancel()
		}

		res, err := s.renderer.Render(ctx, job)
		if res.JobID == "" {
			res.JobID = job.ID
		}
		s.finish(msg, res, err)
	}()
}

func toRequest(req protocol.RenderRequest) render.Request {
	return render.Request{
		JobID:      req.JobID,
		Text:       req.Text,
		Blocks:     req.Blocks,
		Language:   req.Language,
		Background: req.Background,
		Font:       req.Font,
		FontSize:   req.FontSize,
		Color:      req.Color,
		Anchor:     req.Anchor,
		Transition: req.TransitionSec,
		Entitlement: access.Entitlement{
			UserID:    req.UserID,
			Active:    req.SubscriptionActive,
			CheckedAt: time.Now().UTC(),
		},
	}
}

// finish publishes the outcome and answers the requester when it asked for a reply.
func (s *Service) finish(msg *nats.Msg, res render.Result, err error) {
	done := protocol.RenderDone{
		JobID:     res.JobID,
		OK:        err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		done.ErrorKind = string(failure.KindOf(err))
		done.Error = failure.Cause(err)
	} else {
		done.OutputPath = res.OutputPath
		done.Duration = res.Duration
		done.Scenes = res.Scenes
		done.Clamped = res.Clamped
	}
	data, err := s.bus.PublishJSON(protocol.SubjectRenderDone, done)
	if err != nil {
		s.logger.Warn("failed to publish render outcome", slog.String("job_id", res.JobID), slogError(err))
	}
	if msg.Reply == "" || data == nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply to render request", slog.String("job_id", res.JobID), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
