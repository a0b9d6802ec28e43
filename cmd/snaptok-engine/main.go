package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/0xmukeshr/snaptok-redefine/internal/analyze"
	"github.com/0xmukeshr/snaptok-redefine/internal/api"
	"github.com/0xmukeshr/snaptok-redefine/internal/capture"
	"github.com/0xmukeshr/snaptok-redefine/internal/config"
	"github.com/0xmukeshr/snaptok-redefine/internal/engine"
	"github.com/0xmukeshr/snaptok-redefine/internal/events"
	"github.com/0xmukeshr/snaptok-redefine/internal/metrics"
	"github.com/0xmukeshr/snaptok-redefine/internal/questions"
	"github.com/0xmukeshr/snaptok-redefine/internal/storage"
	"github.com/0xmukeshr/snaptok-redefine/internal/telemetry"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.StringVar(&overrides.AnalyzerURL, "analyzer-url", "", "analysis collaborator URL")
	flag.StringVar(&overrides.ArtifactsDir, "artifacts-dir", "", "local artifact directory")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("snaptok-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Local artifact store
	local, err := storage.NewLocalStore(cfg.ArtifactsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ArtifactsDir).Msg("failed to open artifact store")
	}

	// Event bus feeding the SSE stream
	bus := events.NewBus(256)

	// Browser capture clients connect over the websocket bridge.
	bridge := capture.NewWSBridge(log.With().Str("component", "capture").Logger())

	// Optional telemetry publisher
	var tel *telemetry.Publisher
	if cfg.MQTTBrokerURL != "" {
		tel, err = telemetry.Connect(telemetry.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log.With().Str("component", "telemetry").Logger(),
		})
		if err != nil {
			log.Error().Err(err).Msg("telemetry broker unreachable, continuing without")
			tel = nil
		}
	}

	// Optional raw-audio upload side channel
	var uploader *storage.AsyncUploader
	s3Enabled := cfg.S3.Enabled()
	if s3Enabled {
		s3, err := storage.NewS3Store(cfg.S3, log.With().Str("component", "s3").Logger())
		if err != nil {
			log.Error().Err(err).Msg("raw upload target unreachable, continuing without")
			s3Enabled = false
		} else {
			uploader = storage.NewAsyncUploader(s3, 64, log.With().Str("component", "uploader").Logger())
			uploader.Start(2)
		}
	}

	eng, err := engine.New(engine.Options{
		Source:           bridge,
		Generator:        questions.TemplateGenerator{},
		Local:            local,
		Uploader:         uploader,
		Bus:              bus,
		Telemetry:        tel,
		QuestionCount:    cfg.QuestionCount,
		QuestionDuration: cfg.QuestionDuration,
		TickInterval:     time.Second,
		Constraints:      capture.DefaultConstraints(cfg.SampleRate),
		GainBoost:        cfg.GainBoost,
		AudioBitrate:     cfg.AudioBitrate,
		Log:              log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build engine")
	}

	// Merger is wired after the engine because it writes into the engine's
	// session store. Merge outcomes fan out to the event bus.
	analyzer := analyze.NewClient(cfg.AnalyzerURL, cfg.AnalyzerTimeout)
	merger := analyze.NewMerger(analyzer, eng.Store(), func(eventType, questionID string, payload map[string]any) {
		if eventType == "analysis_failed" {
			metrics.AnalysisFailuresTotal.Inc()
		}
		bus.Publish(eventType, eng.Store().ID(), questionID, payload)
	}, log)
	eng.SetMerger(merger)

	// Watcher re-submits finished recordings that never reached the analyzer,
	// for example after a crash mid-session.
	var watcher *analyze.ArtifactWatcher
	if cfg.WatchArtifacts {
		watcher = analyze.NewArtifactWatcher(local.Dir(), eng.ResubmitArtifact, log)
		if err := watcher.Start(); err != nil {
			log.Error().Err(err).Msg("artifact watcher failed to start, continuing without")
			watcher = nil
		}
	}

	prometheus.MustRegister(metrics.NewCollector(eng))

	srv := api.NewServer(cfg, api.Deps{
		Engine:    eng,
		Bus:       bus,
		Bridge:    bridge,
		Local:     local,
		Telemetry: tel,
		Watcher:   watcher,
		S3Enabled: s3Enabled,
		Version:   version,
		StartTime: startTime,
	}, log.With().Str("component", "http").Logger())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	eng.Close()
	if watcher != nil {
		watcher.Stop()
	}
	merger.Wait()
	if uploader != nil {
		uploader.Stop()
	}
	if tel != nil {
		tel.Close()
	}

	log.Info().Msg("snaptok-engine stopped")
}
