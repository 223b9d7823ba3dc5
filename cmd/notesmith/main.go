// Command notesmith runs the pipeline engine from the terminal: ingest
// content, chat against a session, ask questions over ingested knowledge,
// and apply named transformations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/notesmith-ai/notesmith/config"
	"github.com/notesmith-ai/notesmith/content"
	"github.com/notesmith-ai/notesmith/engine"
	"github.com/notesmith-ai/notesmith/flow"
	internalconfig "github.com/notesmith-ai/notesmith/internal/config"
	"github.com/notesmith-ai/notesmith/job"
	"github.com/notesmith-ai/notesmith/model"
	"github.com/notesmith-ai/notesmith/observe"
	otelobserve "github.com/notesmith-ai/notesmith/observe/otel"
	"github.com/notesmith-ai/notesmith/pipelines"
	providerfactory "github.com/notesmith-ai/notesmith/providers/factory"
	"github.com/notesmith-ai/notesmith/retrieval"
	"github.com/notesmith-ai/notesmith/runtime/queue"
	queuememory "github.com/notesmith-ai/notesmith/runtime/queue/memory"
	"github.com/notesmith-ai/notesmith/runtime/queue/redisstreams"
	"github.com/notesmith-ai/notesmith/state"
	statememory "github.com/notesmith-ai/notesmith/state/memory"
	stateredis "github.com/notesmith-ai/notesmith/state/redis"
	statesqlite "github.com/notesmith-ai/notesmith/state/sqlite"
	"github.com/notesmith-ai/notesmith/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: notesmith [-config path] <command> [flags]

commands:
  ingest     ingest text, a file, or a URL into the workspace
  chat       send one chat turn for a session
  ask        answer a question from ingested knowledge
  transform  apply a named transformation to text
  job        show the status of a job
  worker     run the background worker loop`)
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", internalconfig.GetenvDefault("NOTESMITH_CONFIG", ""), "path to the YAML config file")
	verbose := flag.Bool("v", internalconfig.ParseBoolEnv("NOTESMITH_VERBOSE", false), "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() == 0 {
		usage()
		return fmt.Errorf("a command is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.Worker.PoolSize = internalconfig.ParseIntEnv("NOTESMITH_POOL_SIZE", cfg.Worker.PoolSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	command, args := flag.Arg(0), flag.Args()[1:]
	switch command {
	case "ingest":
		return app.ingest(ctx, args)
	case "chat":
		return app.chat(ctx, args)
	case "ask":
		return app.ask(ctx, args)
	case "transform":
		return app.transform(ctx, args)
	case "job":
		return app.jobStatus(ctx, args)
	case "worker":
		return app.runWorker(ctx)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

type app struct {
	engine   *engine.Engine
	worker   *job.Worker
	queue    queue.Queue
	store    state.Store
	observer *observe.AsyncSink
}

// buildObserver fans events out to the structured log and, when tracing is
// enabled, the process-global OpenTelemetry tracer, decoupled from the run
// hot path by an async buffer.
func buildObserver() *observe.AsyncSink {
	sinks := []observe.Sink{observe.NewLogSink(slog.Default())}
	if internalconfig.ParseBoolEnv("NOTESMITH_TRACE", false) {
		sinks = append(sinks, otelobserve.NewSink(otel.GetTracerProvider()))
	}
	return observe.NewAsyncSink(observe.NewMultiSink(sinks...), 256)
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	workQueue, err := openQueue(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	provisioner, err := model.NewProvisioner(registry, providerfactory.New(ctx))
	if err != nil {
		return nil, err
	}

	embedder, err := providerfactory.Embedder(cfg.Embedder.Vendor, cfg.Embedder.Model)
	if err != nil {
		return nil, err
	}
	retriever, err := retrieval.New(store, embedder,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithMinScore(cfg.Retrieval.MinScore))
	if err != nil {
		return nil, err
	}

	observer := buildObserver()

	tracker, err := job.NewTracker(store, job.WithObserver(observer))
	if err != nil {
		return nil, err
	}
	executor, err := flow.NewExecutor(store,
		flow.WithJobs(tracker, workQueue),
		flow.WithExecutorObserver(observer))
	if err != nil {
		return nil, err
	}

	var extractorOpts []content.ExtractorOption
	if os.Getenv("ZOTERO_API_KEY") != "" {
		zotero, err := content.NewZoteroClientFromEnv()
		if err != nil {
			return nil, err
		}
		extractorOpts = append(extractorOpts, content.WithZotero(zotero))
	}

	registered, err := pipelines.All(pipelines.Deps{
		Provisioner:  provisioner,
		Extractor:    content.NewExtractor(extractorOpts...),
		Retriever:    retriever,
		Store:        store,
		ChunkSize:    cfg.Retrieval.ChunkSize,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(executor, tracker, registered)
	if err != nil {
		return nil, err
	}

	worker, err := job.NewWorker(job.WorkerConfig{
		Consumer: cfg.Worker.Consumer,
		PoolSize: cfg.Worker.PoolSize,
	}, workQueue, tracker, job.WithWorkerObserver(observer))
	if err != nil {
		return nil, err
	}
	if err := worker.Register(pipelines.JobKindEmbed, pipelines.EmbedHandler(retriever)); err != nil {
		return nil, err
	}

	return &app{engine: eng, worker: worker, queue: workQueue, store: store, observer: observer}, nil
}

func (a *app) close() {
	_ = a.queue.Close()
	if closer, ok := a.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	a.observer.Close()
}

func openStore(cfg config.Config) (state.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return statememory.New(), nil
	case config.BackendSQLite:
		return statesqlite.New(cfg.Store.Path)
	case config.BackendRedis:
		return stateredis.New(cfg.Store.Redis.Addr,
			stateredis.WithPassword(cfg.Store.Redis.Password),
			stateredis.WithDB(cfg.Store.Redis.DB),
			stateredis.WithPrefix(cfg.Store.Redis.Prefix))
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func openQueue(cfg config.Config) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case config.BackendMemory:
		return queuememory.New(), nil
	case config.BackendRedis:
		return redisstreams.New(cfg.Queue.Redis.Addr,
			redisstreams.WithPassword(cfg.Queue.Redis.Password),
			redisstreams.WithDB(cfg.Queue.Redis.DB),
			redisstreams.WithPrefix(cfg.Queue.Redis.Prefix))
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
}

func (a *app) ingest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	text := fs.String("text", "", "raw text to ingest")
	file := fs.String("file", "", "path of a file to ingest")
	url := fs.String("url", "", "URL to fetch and ingest")
	zoteroKey := fs.String("zotero", "", "Zotero item key to fetch and ingest")
	transformNames := fs.String("transform", "", "comma-separated transformations to apply first")
	override := fs.String("model", "", "provider id override for this run")
	wait := fs.Bool("wait", true, "wait for the embed job to settle")
	if err := fs.Parse(args); err != nil {
		return err
	}

	input := content.Input{Text: *text, Path: *file, URL: *url, Zotero: *zoteroKey}
	if input.Ref() == "" {
		return fmt.Errorf("one of -text, -file, -url, or -zotero is required")
	}
	initial := map[string]any{pipelines.FieldInput: input}
	if names := splitList(*transformNames); len(names) > 0 {
		initial[pipelines.FieldTransformations] = names
	}

	// The worker runs alongside the pipeline so the embed job can settle in
	// this process.
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = a.worker.Start(workerCtx) }()
	defer func() { _ = a.worker.Stop(context.Background()) }()

	result, err := a.engine.Run(ctx, pipelines.NameIngestion, initial, engine.RunOptions{ModelOverride: *override})
	if err != nil {
		return err
	}
	fmt.Printf("source: %s\njob: %s\n", result.Fields[pipelines.FieldSourceID], result.JobID)

	if !*wait {
		return nil
	}
	for {
		j, err := a.engine.JobStatus(ctx, result.JobID)
		if err != nil {
			return err
		}
		if j.Terminal() {
			if j.Status == job.StatusFailed {
				return fmt.Errorf("embed job failed: %s", j.Error)
			}
			fmt.Printf("job %s: %s (%s)\n", j.ID, j.Status, j.OutputRef)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (a *app) chat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	session := fs.String("session", "default", "session id carrying the conversation")
	message := fs.String("message", "", "the user's turn")
	override := fs.String("model", "", "provider id override for this turn")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*message) == "" {
		return fmt.Errorf("-message is required")
	}

	result, err := a.engine.Run(ctx, pipelines.NameChat,
		map[string]any{pipelines.FieldUserInput: *message},
		engine.RunOptions{SessionID: *session, ModelOverride: *override})
	if err != nil {
		return err
	}
	st := flow.NewState(result.Fields)
	if reply, ok := flow.Field[types.Message](st, pipelines.FieldReply); ok {
		fmt.Println(reply.Content)
	}
	return nil
}

func (a *app) ask(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	question := fs.String("question", "", "the question to answer")
	override := fs.String("model", "", "provider id override for this run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*question) == "" {
		return fmt.Errorf("-question is required")
	}

	result, err := a.engine.Run(ctx, pipelines.NameAsk,
		map[string]any{pipelines.FieldQuestion: *question},
		engine.RunOptions{ModelOverride: *override})
	if err != nil {
		return err
	}
	fmt.Println(result.Fields[pipelines.FieldAnswer])
	if citations, ok := result.Fields[pipelines.FieldCitations]; ok {
		raw, err := json.MarshalIndent(citations, "", "  ")
		if err == nil && string(raw) != "[]" {
			fmt.Println("citations:")
			fmt.Println(string(raw))
		}
	}
	return nil
}

func (a *app) transform(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transform", flag.ContinueOnError)
	name := fs.String("name", "", "transformation to apply: "+strings.Join(pipelines.TransformationNames(), ", "))
	text := fs.String("text", "", "text to transform")
	file := fs.String("file", "", "path of a file to transform")
	override := fs.String("model", "", "provider id override for this run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	source := *text
	if source == "" && *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		source = string(data)
	}
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("one of -text or -file is required")
	}

	result, err := a.engine.Run(ctx, pipelines.NameTransform,
		map[string]any{
			pipelines.FieldText:           source,
			pipelines.FieldTransformation: *name,
		},
		engine.RunOptions{ModelOverride: *override})
	if err != nil {
		return err
	}
	fmt.Println(result.Fields[pipelines.FieldOutput])
	return nil
}

func (a *app) jobStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("job", flag.ContinueOnError)
	id := fs.String("id", "", "job id to look up")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	j, err := a.engine.JobStatus(ctx, *id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return fmt.Errorf("job %q not found", *id)
		}
		return err
	}
	raw, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func (a *app) runWorker(ctx context.Context) error {
	slog.Info("worker started")
	err := a.worker.Start(ctx)
	slog.Info("worker stopped")
	return err
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
