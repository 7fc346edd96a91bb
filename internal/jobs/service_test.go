package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/textreel/internal/bus"
	"github.com/loqalabs/textreel/internal/config"
	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/natsserver"
	"github.com/loqalabs/textreel/internal/protocol"
	"github.com/loqalabs/textreel/internal/render"
	"github.com/nats-io/nats.go"
)

type fakeRenderer struct {
	mu   sync.Mutex
	jobs []render.Job
	err  error
}

func (f *fakeRenderer) Render(_ context.Context, job render.Job) (render.Result, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.err != nil {
		return render.Result{JobID: job.ID}, f.err
	}
	return render.Result{JobID: job.ID, OutputPath: "/out/" + job.ID + ".mp4", Duration: 4.4, Scenes: len(job.Blocks)}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, testLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func startService(t *testing.T, renderer Renderer) *bus.Client {
	t.Helper()
	client := startBus(t)
	svc := NewService(context.Background(), config.JobsConfig{Enabled: true, MaxConcurrency: 2, TimeoutMS: 5000}, client, renderer, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}
	return client
}

func request(t *testing.T, client *bus.Client, req protocol.RenderRequest) protocol.RenderDone {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var done protocol.RenderDone
	if err := client.RequestJSON(ctx, protocol.SubjectRenderRequest, req, &done); err != nil {
		t.Fatalf("request: %v", err)
	}
	return done
}

func TestServiceRendersRequest(t *testing.T) {
	renderer := &fakeRenderer{}
	client := startService(t, renderer)

	doneCh := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectRenderDone, doneCh)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	done := request(t, client, protocol.RenderRequest{
		JobID:              "job-42",
		UserID:             "user-1",
		SubscriptionActive: true,
		Text:               "Hello world.\n\nThis is scene two.",
		Language:           "en",
	})
	if !done.OK || done.JobID != "job-42" || done.Scenes != 2 || done.OutputPath != "/out/job-42.mp4" {
		t.Fatalf("unexpected reply %+v", done)
	}

	select {
	case msg := <-doneCh:
		var published protocol.RenderDone
		if err := json.Unmarshal(msg.Data, &published); err != nil || published.JobID != "job-42" {
			t.Fatalf("unexpected render.done %s %v", msg.Data, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected render.done publication")
	}

	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	if len(renderer.jobs) != 1 || renderer.jobs[0].Entitlement.UserID != "user-1" || !renderer.jobs[0].Entitlement.Active {
		t.Fatalf("unexpected jobs %+v", renderer.jobs)
	}
}

func TestServiceRejectsInvalidRequest(t *testing.T) {
	renderer := &fakeRenderer{}
	client := startService(t, renderer)

	done := request(t, client, protocol.RenderRequest{UserID: "user-1", SubscriptionActive: true, Text: "   "})
	if done.OK || done.ErrorKind != string(failure.InvalidInput) {
		t.Fatalf("expected invalid input reply, got %+v", done)
	}
	if done.JobID == "" {
		t.Fatal("expected a job id to be assigned")
	}

	msg, err := client.Conn().Request(protocol.SubjectRenderRequest, []byte("{not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var bad protocol.RenderDone
	if err := json.Unmarshal(msg.Data, &bad); err != nil || bad.ErrorKind != string(failure.InvalidInput) {
		t.Fatalf("expected invalid input for malformed json, got %s", msg.Data)
	}

	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	if len(renderer.jobs) != 0 {
		t.Fatalf("invalid requests must not reach the pipeline")
	}
}

func TestServiceReportsRenderFailure(t *testing.T) {
	renderer := &fakeRenderer{err: failure.Errorf(failure.EncodingFailure, "encode", "ffmpeg exited 1")}
	client := startService(t, renderer)

	done := request(t, client, protocol.RenderRequest{UserID: "u", SubscriptionActive: true, Text: "Hi."})
	if done.OK || done.ErrorKind != string(failure.EncodingFailure) || done.Error != "ffmpeg exited 1" {
		t.Fatalf("unexpected reply %+v", done)
	}
}

func TestStatusPublisher(t *testing.T) {
	client := startBus(t)
	ch := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectRenderStatus, ch)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	pub := NewStatusPublisher(client, testLogger())
	pub.Observe(context.Background(), render.Event{JobID: "j", State: render.Encoding, At: time.Now().UTC()})

	select {
	case msg := <-ch:
		var status protocol.RenderStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			t.Fatal(err)
		}
		if status.JobID != "j" || status.State != "encoding" {
			t.Fatalf("unexpected status %+v", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected status message")
	}
}

func TestServiceCloseWaitsForAdmittedRenders(t *testing.T) {
	client := startBus(t)
	renderer := &fakeRenderer{}
	svc := NewService(context.Background(), config.JobsConfig{Enabled: true, MaxConcurrency: 4}, client, renderer, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}

	req := protocol.RenderRequest{UserID: "user-1", SubscriptionActive: true, Text: "Hello."}
	for i := 0; i < 500; i++ {
		if _, err := client.PublishJSON(protocol.SubjectRenderRequest, req); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	svc.Close()
	renderer.mu.Lock()
	atClose := len(renderer.jobs)
	renderer.mu.Unlock()

	time.Sleep(200 * time.Millisecond)
	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	if len(renderer.jobs) != atClose {
		t.Fatalf("renders started after Close returned: %d -> %d", atClose, len(renderer.jobs))
	}
}

func TestDisabledServiceIsHealthy(t *testing.T) {
	svc := NewService(context.Background(), config.JobsConfig{Enabled: false}, nil, &fakeRenderer{}, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("disabled service should report healthy")
	}
	svc.Close()
}
