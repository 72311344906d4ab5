package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cascadeai/modelmesh/internal/cgrag"
	"github.com/cascadeai/modelmesh/internal/engine"
	"github.com/cascadeai/modelmesh/internal/envconfig"
	"github.com/cascadeai/modelmesh/internal/eventbus"
	"github.com/cascadeai/modelmesh/internal/lifecycle"
	"github.com/cascadeai/modelmesh/internal/logging"
	"github.com/cascadeai/modelmesh/internal/pipeline"
	"github.com/cascadeai/modelmesh/internal/registry"
	"github.com/cascadeai/modelmesh/internal/router"
	"github.com/cascadeai/modelmesh/internal/supervisor"
	"github.com/cascadeai/modelmesh/pkg/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print the version string and exit")
	modelRoot := flag.String("model-root", envconfig.GetEnv("MODELMESH_MODEL_ROOT", "./models"), "directory to scan for GGUF model files")
	stateDir := flag.String("state-dir", envconfig.GetEnv("MODELMESH_STATE_DIR", "./state"), "directory holding the registry document and CGRAG index")
	binaryPath := flag.String("inference-binary", envconfig.GetEnv("MODELMESH_INFERENCE_BINARY", "llama-server"), "path to the inference server executable the Supervisor launches per model")
	embedderURL := flag.String("embedder-url", envconfig.GetEnv("MODELMESH_EMBEDDER_URL", "http://127.0.0.1:8090"), "base URL of the OpenAI-compatible embeddings server backing CGRAG")
	embedderModel := flag.String("embedder-model", envconfig.GetEnv("MODELMESH_EMBEDDER_MODEL", "nomic-embed-text"), "embedding model name reported in docs.info")
	embedderDim := flag.Int("embedder-dim", envconfig.GetEnvInt("MODELMESH_EMBEDDER_DIM", 768), "embedding vector dimensionality")
	vramBudgetGB := flag.Float64("vram-budget-gb", 24, "total VRAM budget StartAll uses to decide how many models to bring up")
	logLevel := flag.String("log-level", envconfig.GetEnv("MODELMESH_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	shutdownTimeout := flag.Duration("shutdown-timeout", envconfig.GetEnvDuration("MODELMESH_SHUTDOWN_TIMEOUT", 30*time.Second), "grace period for shutdown before giving up")
	reindexDocs := flag.String("reindex-docs", "", "comma-separated file/directory paths to (re)index into the CGRAG store before serving, then exit")
	modelOverrides := flag.String("model-override", "", `apply per-model runtime overrides at startup, e.g. "llama-8b-q4=gpu_layers:20,ctx_size:8192;mixtral-47b-q4=threads:16"`)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.FullVersion())
		return
	}

	logger := logging.New(logging.Config{Level: *logLevel, Format: "text", Output: "stdout"})
	logger.WithField("version", version.Version).Info("starting modelmesh")

	if err := os.MkdirAll(*stateDir, 0o755); err != nil {
		log.Fatalf("create state dir: %v", err)
	}

	reg, err := registry.New(registry.DefaultConfig(filepath.Join(*stateDir, "registry.json")), logger)
	if err != nil {
		log.Fatalf("initialise registry: %v", err)
	}
	if err := reg.Scan(*modelRoot); err != nil {
		log.Fatalf("scan model root %s: %v", *modelRoot, err)
	}
	if err := applyModelOverrides(reg, *modelOverrides); err != nil {
		log.Fatalf("apply model overrides: %v", err)
	}

	sup := supervisor.New(supervisor.Config{BinaryPath: *binaryPath}, reg, logger)
	rt := router.New(reg, sup)

	embedder := cgrag.NewEmbedder(*embedderURL, *embedderModel, *embedderDim)
	cgragDir := filepath.Join(*stateDir, "cgrag")
	if err := os.MkdirAll(cgragDir, 0o755); err != nil {
		log.Fatalf("create cgrag dir: %v", err)
	}
	if trimmed := strings.TrimSpace(*reindexDocs); trimmed != "" {
		indexer, err := cgrag.NewIndexer(cgragDir, embedder, logger)
		if err != nil {
			log.Fatalf("initialise indexer: %v", err)
		}
		paths := strings.Split(trimmed, ",")
		for i := range paths {
			paths[i] = strings.TrimSpace(paths[i])
		}
		if err := indexer.Index(context.Background(), paths); err != nil {
			log.Fatalf("index documents: %v", err)
		}
		fmt.Printf("indexed %d path(s) into %s\n", len(paths), cgragDir)
		return
	}

	retriever := cgrag.NewRetriever(cgragDir, embedder, logger)

	bus := eventbus.New(eventbus.DefaultBufferSize, logger)
	tracker := pipeline.New(bus, logger)
	eng := engine.New(reg, sup, rt, retriever, tracker, bus, logger)

	manager := lifecycle.NewManager()
	// Registration order doubles as startup order; Manager stops in reverse,
	// so the engine rejects new work before the supervisor tears down
	// inference servers, and the event bus flushes last.
	for _, svc := range []lifecycleService{
		bus.AsService(),
		sup.AsService(),
		tracker.AsService(),
		eng.AsService(),
	} {
		if err := manager.Register(svc); err != nil {
			log.Fatalf("register service %s: %v", svc.Name(), err)
		}
	}

	rootCtx := context.Background()
	if err := manager.Start(rootCtx); err != nil {
		log.Fatalf("start manager: %v", err)
	}

	enabled := reg.GetEnabled()
	started, skipped, err := sup.StartAll(rootCtx, enabled, *vramBudgetGB)
	if err != nil {
		log.Fatalf("start inference servers: %v", err)
	}
	logger.WithFields(map[string]interface{}{"started": started, "skipped": skipped}).Info("inference servers launched")

	fmt.Printf("modelmesh running: %d model(s) enabled, %d started within %.1fGB VRAM budget\n", len(enabled), len(started), *vramBudgetGB)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// applyModelOverrides parses the -model-override flag's
// "model_id=key:value,key:value;model_id2=..." syntax and applies each
// model's overrides via the registry's loosely-typed override parsing.
func applyModelOverrides(reg *registry.Registry, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		modelID, rawPairs, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid override entry %q: expected model_id=key:value,...", entry)
		}
		raw := make(map[string]interface{})
		for _, pair := range strings.Split(rawPairs, ",") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok {
				return fmt.Errorf("invalid override pair %q for model %q: expected key:value", pair, modelID)
			}
			raw[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		if _, err := reg.UpdateOverridesRaw(strings.TrimSpace(modelID), raw); err != nil {
			return fmt.Errorf("model %q: %w", modelID, err)
		}
	}
	return nil
}

// lifecycleService is the Service interface as lifecycle.Manager.Register
// expects it, restated here so main.go doesn't need to import the concrete
// adapter types each AsService() returns.
type lifecycleService interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
