package app

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/metagraph-backend/internal/aspect"
	"github.com/yungbote/metagraph-backend/internal/coordinator"
	"github.com/yungbote/metagraph-backend/internal/graph"
	apphttp "github.com/yungbote/metagraph-backend/internal/http"
	"github.com/yungbote/metagraph-backend/internal/http/handlers"
	"github.com/yungbote/metagraph-backend/internal/lineage"
	"github.com/yungbote/metagraph-backend/internal/ops"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
	"github.com/yungbote/metagraph-backend/internal/platform/neo4jdb"
	"github.com/yungbote/metagraph-backend/internal/registry"
	"github.com/yungbote/metagraph-backend/internal/rules"
	"github.com/yungbote/metagraph-backend/internal/urn"
)

type App struct {
	Log         *logger.Logger
	Cfg         Config
	Registry    *registry.Registry
	Neo4j       *neo4jdb.Client
	Writer      *graph.Writer
	Synthesizer *ops.Synthesizer
	Coordinator *coordinator.Coordinator
	Server      *apphttp.Server
}

// New wires the process: logger, config, registry, store client, writer,
// rule engine, lineage resolver, synthesized operation table, coordinator,
// router. A registry failure refuses to start.
func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)

	reg, err := registry.Load(cfg.RegistryPath, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load registry: %w", err)
	}

	builders, err := compileBuilders(reg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("compile urn builders: %w", err)
	}

	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init neo4j: %w", err)
	}

	writer := graph.NewWriter(neoClient, log)
	if cfg.BootstrapSchema {
		if err := writer.Bootstrap(context.Background(), reg); err != nil {
			log.Warn("schema bootstrap failed", "error", err)
		}
	}

	validator := aspect.NewValidator(reg)
	engine := rules.NewEngine(reg, builders, log)

	var lineageResolver ops.LineageResolver
	if lc := reg.Lineage(); lc != nil {
		lineageResolver = lineage.NewResolver(lc, log)
	}

	synth, err := ops.Synthesize(reg, builders, validator, writer, engine, lineageResolver, log)
	if err != nil {
		_ = neoClient.Close(context.Background())
		log.Sync()
		return nil, fmt.Errorf("synthesize operations: %w", err)
	}

	coord := coordinator.New(coordinator.Config{
		MaxConcurrent:     cfg.MaxConcurrent,
		RequestTimeout:    cfg.RequestTimeout,
		IdempotencyWindow: cfg.IdempotencyWindow,
	}, log)

	server := apphttp.NewServer(apphttp.RouterConfig{
		Log:           log,
		AllowOrigins:  cfg.AllowOrigins,
		EntityHandler: handlers.NewEntityHandler(synth, coord, log),
		AspectHandler: handlers.NewAspectHandler(synth, coord, log),
		HealthHandler: handlers.NewHealthHandler(reg, synth),
	})

	return &App{
		Log:         log,
		Cfg:         cfg,
		Registry:    reg,
		Neo4j:       neoClient,
		Writer:      writer,
		Synthesizer: synth,
		Coordinator: coord,
		Server:      server,
	}, nil
}

func compileBuilders(reg *registry.Registry) (map[string]*urn.Builder, error) {
	builders := make(map[string]*urn.Builder, len(reg.EntityTypes()))
	for _, entityType := range reg.EntityTypes() {
		ent, _ := reg.Entity(entityType)
		builder, err := urn.Compile(entityType, ent.URNTemplate, ent.IdentifyingParams, ent.OptionalParams)
		if err != nil {
			return nil, err
		}
		builders[entityType] = builder
	}
	return builders, nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Starting server", "addr", a.Cfg.ListenAddr)
	return a.Server.Run(a.Cfg.ListenAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Neo4j != nil {
		_ = a.Neo4j.Close(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
