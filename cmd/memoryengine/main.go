// Command memoryengine wires the memory system's components into a runnable
// process and runs a short store/discover/recall demonstration against the
// in-process storage adapter. It is the composition root for the library
// packages under internal/; embedding applications should construct the
// same pieces directly rather than shelling out to this binary.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/connections"
	"github.com/driftlane/memoryengine/internal/cost"
	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/events"
	"github.com/driftlane/memoryengine/internal/graph"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/observability"
	"github.com/driftlane/memoryengine/internal/recall"
	"github.com/driftlane/memoryengine/internal/storage"
	"github.com/driftlane/memoryengine/internal/system"
	"github.com/driftlane/memoryengine/internal/temporal"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(os.Getenv("LOG_FILE"), os.Getenv("LOG_LEVEL"))

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("memoryengine: otel init failed, continuing without it")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	store, err := storage.FromConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("memoryengine: storage init failed")
	}
	embedSvc := embedding.NewServiceFromConfig(cfg.Embedding)
	g := graph.New(cfg.Graph)
	tracker := cost.New()
	emitter := events.New(nil)

	temporalAnalyzer := temporal.New(store, tracker, cfg.Temporal, cfg.CostControl, cfg.ConnectionDetection)
	connEngine := connections.NewEngine(store, embedSvc, g, tracker, cfg.ConnectionDetection, cfg.CostControl, temporalAnalyzer, nil)
	recallSvc := recall.NewService(store, embedSvc, g, nil, temporalAnalyzer, cfg.Recall, cfg.ConnectionDetection)

	// C6: Store enqueues discovery tasks here instead of callers invoking
	// the connection engine directly; the consumer drives C7 off-path.
	queue := connections.NewQueue(func(ctx context.Context, t connections.Task) {
		if _, err := connEngine.Discover(ctx, t.UserID, t.AgentID, t.MemoryID); err != nil {
			log.Warn().Err(err).Str("memoryId", t.MemoryID).Msg("memoryengine: background discovery failed")
		}
	}, 50*time.Millisecond)
	queue.Start(context.Background())
	defer queue.Stop()

	mem := system.New(store, recallSvc, embedSvc, emitter, cfg).WithQueue(queue)

	if err := demo(context.Background(), mem, temporalAnalyzer); err != nil {
		log.Fatal().Err(err).Msg("memoryengine: demo run failed")
	}
}

// demo stores a handful of related memories, waits for the background C6
// queue to run discovery, then recalls against the store to exercise the
// full store -> discover -> recall -> stats path end to end.
func demo(ctx context.Context, mem *system.MemorySystem, analyzer *temporal.Analyzer) error {
	const userID, agentID = "demo-user", "demo-agent"

	if _, err := mem.Store(ctx, userID, agentID, "the deployment pipeline now runs integration tests before staging", model.TypeSemantic, true); err != nil {
		return fmt.Errorf("store first memory: %w", err)
	}
	if _, err := mem.Store(ctx, userID, agentID, "staging deploys failed twice this week due to flaky integration tests", model.TypeEpisodic, true); err != nil {
		return fmt.Errorf("store second memory: %w", err)
	}

	// give the discovery queue's debounce window time to drain before recall.
	time.Sleep(150 * time.Millisecond)

	if _, err := analyzer.AnalyzePatterns(ctx, userID, agentID, 0, 0, false); err != nil {
		return fmt.Errorf("analyze patterns: %w", err)
	}

	result, err := mem.RecallQuery(ctx, recall.Query{UserID: userID, AgentID: agentID, Query: "integration tests", UseConnections: true, HasUseConnections: true})
	if err != nil {
		return fmt.Errorf("recall: %w", err)
	}
	stats, err := mem.Stats(ctx, userID, agentID, true)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	log.Info().
		Int("recalled", len(result.Memories)).
		Int64("totalMemories", stats.TotalMemories).
		Msg("memoryengine: demo run complete")
	return nil
}
