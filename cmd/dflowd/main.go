// Command dflowd is the replication daemon: it loads a pipeline config,
// wires the configured extractor through the buffer and pipeline to the
// configured parallelizer and sinkers, and runs until a termination
// signal arrives — the same shape the teacher's main() wires canal
// straight into MongoSink, generalized to dflow's pluggable
// extractor/parallelizer/sinker model.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sdlhq/dflow/internal/buffer"
	"github.com/sdlhq/dflow/internal/config"
	"github.com/sdlhq/dflow/internal/extractor"
	"github.com/sdlhq/dflow/internal/logutil"
	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/mysqlcdc"
	"github.com/sdlhq/dflow/internal/parallel"
	"github.com/sdlhq/dflow/internal/pgcdc"
	"github.com/sdlhq/dflow/internal/pipeline"
	"github.com/sdlhq/dflow/internal/registry"
	"github.com/sdlhq/dflow/internal/sink"
	"github.com/sdlhq/dflow/internal/sink/clickhousesink"
	"github.com/sdlhq/dflow/internal/sink/kafkasink"
	"github.com/sdlhq/dflow/internal/sink/mongosink"
	"github.com/sdlhq/dflow/internal/sink/redissink"
	"github.com/sdlhq/dflow/internal/sink/starrockssink"
	"github.com/sdlhq/dflow/internal/statusapi"
)

func main() {
	configPath := flag.String("config", "dflow.yaml", "pipeline config file")
	envPath := flag.String("env", ".env", "dotenv file holding connection secrets")
	statusAddr := flag.String("status-addr", ":8090", "address for the /status and /metrics HTTP server")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dflowd: logger init:", err)
		os.Exit(1)
	}
	logutil.Init(logger)
	defer logutil.Sync()

	if err := run(*configPath, *envPath, *statusAddr); err != nil {
		logutil.Error("dflowd: fatal", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath, envPath, statusAddr string) error {
	getenv, err := config.LoadEnv(envPath)
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logutil.Info("dflowd: received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	syncer := meta.NewSyncer()
	reg := registry.New(func(schema, table string) (*meta.TableMeta, error) {
		return nil, fmt.Errorf("no metadata discovered yet for %s.%s", schema, table)
	})

	buf := buffer.New[*meta.DtItem](cfg.BufferSize)

	ext, err := buildExtractor(cfg.Extractor, getenv, reg)
	if err != nil {
		return fmt.Errorf("build extractor: %w", err)
	}

	sinkers, err := buildSinkers(ctx, cfg.Sinkers, getenv)
	if err != nil {
		return fmt.Errorf("build sinkers: %w", err)
	}
	defer closeAll(sinkers)

	par, err := buildParallelizer(cfg.Parallelizer)
	if err != nil {
		return fmt.Errorf("build parallelizer: %w", err)
	}

	p := pipeline.New(pipeline.Pipeline{
		Buf:                buf,
		Parallelizer:       par,
		Sinkers:            sinkers,
		Registry:           reg,
		Syncer:             syncer,
		BatchSinkInterval:  time.Duration(cfg.BatchSinkInterval) * time.Millisecond,
		CheckpointInterval: time.Duration(cfg.CheckpointInterval) * time.Millisecond,
	})

	statusSrv := &http.Server{Addr: statusAddr, Handler: (&statusapi.Server{Syncer: syncer, Reg: reg, Stats: p}).Handler()}
	go func() {
		if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logutil.Warn("dflowd: status server stopped", zap.Error(err))
		}
	}()
	defer statusSrv.Close()

	extractorErrCh := make(chan error, 1)
	go func() {
		extractorErrCh <- ext.Start(ctx, buf, syncer)
	}()

	pipelineErr := p.Run(ctx)

	cancel()
	_ = ext.Close()
	extErr := <-extractorErrCh

	if pipelineErr != nil && pipelineErr != context.Canceled {
		return fmt.Errorf("pipeline: %w", pipelineErr)
	}
	if extErr != nil && extErr != context.Canceled {
		return fmt.Errorf("extractor: %w", extErr)
	}
	return nil
}

func buildExtractor(ec config.ExtractorConfig, getenv func(string) string, reg *registry.Registry) (extractor.Extractor, error) {
	switch ec.Kind {
	case "mysql":
		e := mysqlcdc.New(mysqlcdc.Config{
			Addr:         getenv(ec.URLEnv),
			User:         getenv(ec.URLEnv + "_USER"),
			Password:     getenv(ec.URLEnv + "_PASSWORD"),
			Flavor:       "mysql",
			ServerID:     ec.ServerID,
			IncludeRegex: ".*\\..*",
			ExcludeRegex: "^(mysql|performance_schema|information_schema|sys)\\..*",
		})
		e.SetRegistry(reg)
		return e, nil

	case "pg":
		tables := map[string]bool{}
		for _, t := range ec.Tables {
			tables[t] = true
		}
		e := pgcdc.New(pgcdc.Config{
			ConnString:  getenv(ec.URLEnv),
			Slot:        ec.Slot,
			Publication: ec.Publication,
			Tables:      tables,
		})
		e.SetRegistry(reg)
		return e, nil

	default:
		return nil, fmt.Errorf("unknown extractor kind %q", ec.Kind)
	}
}

func buildParallelizer(pc config.ParallelizerConfig) (parallel.Parallelizer, error) {
	switch pc.Kind {
	case "", "serial":
		return parallel.NewSerial(), nil
	case "partition":
		return parallel.NewPartition(pc.Workers), nil
	case "merge":
		return parallel.NewMerge(), nil
	case "redis":
		return parallel.NewRedis(), nil
	default:
		return nil, fmt.Errorf("unknown parallelizer kind %q", pc.Kind)
	}
}

func buildSinkers(ctx context.Context, scs []config.SinkerConfig, getenv func(string) string) ([]sink.Sinker, error) {
	sinkers := make([]sink.Sinker, 0, len(scs))
	for _, sc := range scs {
		s, err := buildSinker(ctx, sc, getenv)
		if err != nil {
			return nil, fmt.Errorf("sinker %s: %w", sc.ID, err)
		}
		sinkers = append(sinkers, s)
	}
	return sinkers, nil
}

func buildSinker(ctx context.Context, sc config.SinkerConfig, getenv func(string) string) (sink.Sinker, error) {
	uri := getenv(sc.URLEnv)
	switch sc.Kind {
	case "mongo":
		return mongosink.New(ctx, sc.ID, uri, sc.Extra["db"], sc.Extra["collection"], sc.Extra["offsets_collection"])
	case "redis":
		return redissink.New(sc.ID, uri, getenv(sc.URLEnv+"_PASSWORD"), 0), nil
	case "kafka":
		return kafkasink.New(sc.ID, []string{uri}, sc.Extra["topic"]), nil
	case "clickhouse":
		return clickhousesink.New(sc.ID, []string{uri}, sc.Extra["db"], sc.Extra["user"], getenv(sc.URLEnv+"_PASSWORD"))
	case "starrocks":
		return starrockssink.New(sc.ID, uri, sc.Extra["fe_http_addr"], sc.Extra["db"], sc.Extra["user"], getenv(sc.URLEnv+"_PASSWORD"))
	default:
		return nil, fmt.Errorf("unknown sinker kind %q", sc.Kind)
	}
}

func closeAll(sinkers []sink.Sinker) {
	for _, s := range sinkers {
		if err := s.Close(); err != nil {
			logutil.Warn("dflowd: sinker close failed", zap.String("id", s.GetID()), zap.Error(err))
		}
	}
}
