package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/notesmith-ai/notesmith/content"
	"github.com/notesmith-ai/notesmith/flow"
	"github.com/notesmith-ai/notesmith/job"
	"github.com/notesmith-ai/notesmith/llm"
	"github.com/notesmith-ai/notesmith/model"
	"github.com/notesmith-ai/notesmith/pipelines"
	"github.com/notesmith-ai/notesmith/providers/local"
	"github.com/notesmith-ai/notesmith/retrieval"
	queuememory "github.com/notesmith-ai/notesmith/runtime/queue/memory"
	statememory "github.com/notesmith-ai/notesmith/state/memory"
	"github.com/notesmith-ai/notesmith/types"
)

type echoProvider struct{ name string }

func (p echoProvider) Name() string { return p.name }

func (p echoProvider) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	return types.Response{
		Message: types.Message{Role: types.RoleAssistant, Content: "echo: " + last},
	}, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	registry, err := model.NewRegistry([]model.Capability{
		{ProviderID: "fake/echo", Modalities: []model.Modality{model.ModalityText}, MaxContextTokens: 32000, Priority: 1},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	provisioner, err := model.NewProvisioner(registry, func(c model.Capability) (llm.Provider, error) {
		if c.ProviderID != "fake/echo" {
			return nil, fmt.Errorf("no test provider %q", c.ProviderID)
		}
		return echoProvider{name: "echo"}, nil
	})
	if err != nil {
		t.Fatalf("failed to build provisioner: %v", err)
	}

	store := statememory.New()
	retriever, err := retrieval.New(store, local.NewEmbedder())
	if err != nil {
		t.Fatalf("failed to build retriever: %v", err)
	}
	tracker, err := job.NewTracker(store)
	if err != nil {
		t.Fatalf("failed to build tracker: %v", err)
	}
	executor, err := flow.NewExecutor(store, flow.WithJobs(tracker, queuememory.New()))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	registered, err := pipelines.All(pipelines.Deps{
		Provisioner: provisioner,
		Extractor:   content.NewExtractor(),
		Retriever:   retriever,
		Store:       store,
	})
	if err != nil {
		t.Fatalf("failed to build pipelines: %v", err)
	}

	e, err := New(executor, tracker, registered)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return e
}

func TestEngine_RunUnknownPipeline(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Run(context.Background(), "podcast", nil, RunOptions{}); err == nil {
		t.Fatalf("expected error for unknown pipeline")
	}
}

func TestEngine_RunChatBySessionID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	result, err := e.Run(ctx, pipelines.NameChat,
		map[string]any{pipelines.FieldUserInput: "hello"},
		RunOptions{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.RunID == "" {
		t.Fatalf("expected a run id")
	}
	messages, ok := result.Fields[pipelines.FieldMessages].([]types.Message)
	if !ok || len(messages) != 2 {
		t.Fatalf("unexpected messages %#v", result.Fields[pipelines.FieldMessages])
	}
	if messages[1].Content != "echo: hello" {
		t.Fatalf("unexpected reply %q", messages[1].Content)
	}

	// Second turn resumes from the checkpoint.
	result, err = e.Run(ctx, pipelines.NameChat,
		map[string]any{pipelines.FieldUserInput: "again"},
		RunOptions{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	st := flow.NewState(result.Fields)
	history, _ := flow.Field[[]types.Message](st, pipelines.FieldMessages)
	if len(history) != 4 {
		t.Fatalf("expected 4 messages after two turns, got %d", len(history))
	}

	// Ending the session discards the history.
	if err := e.EndSession(ctx, "session-1"); err != nil {
		t.Fatalf("end session failed: %v", err)
	}
	result, err = e.Run(ctx, pipelines.NameChat,
		map[string]any{pipelines.FieldUserInput: "fresh"},
		RunOptions{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	st = flow.NewState(result.Fields)
	history, _ = flow.Field[[]types.Message](st, pipelines.FieldMessages)
	if len(history) != 2 {
		t.Fatalf("expected a fresh session, got %d messages", len(history))
	}
}

func TestEngine_IngestionReturnsJobReference(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	result, err := e.Run(ctx, pipelines.NameIngestion,
		map[string]any{pipelines.FieldInput: content.Input{Text: "Hello world"}},
		RunOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.JobID == "" {
		t.Fatalf("expected a job id")
	}

	j, err := e.JobStatus(ctx, result.JobID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Fatalf("expected pending job with no worker running, got %q", j.Status)
	}

	if err := e.CancelJob(ctx, result.JobID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	j, _ = e.JobStatus(ctx, result.JobID)
	if j.Status != job.StatusCanceled {
		t.Fatalf("expected canceled, got %q", j.Status)
	}
}

func TestEngine_JobStatusUnknown(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.JobStatus(context.Background(), "ghost"); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_PipelinesSorted(t *testing.T) {
	e := newTestEngine(t)
	names := e.Pipelines()
	want := []string{pipelines.NameAsk, pipelines.NameChat, pipelines.NameIngestion, pipelines.NameTransform}
	if len(names) != len(want) {
		t.Fatalf("unexpected pipelines %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected pipelines %v", names)
		}
	}
}
