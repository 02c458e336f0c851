// Package app assembles the daemon from its parts.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/aria-voice/aria/internal/assistant"
	"github.com/aria-voice/aria/internal/capture"
	"github.com/aria-voice/aria/internal/config"
	"github.com/aria-voice/aria/internal/dispatch"
	"github.com/aria-voice/aria/internal/httpapi"
	"github.com/aria-voice/aria/internal/observability"
	"github.com/aria-voice/aria/internal/pipeline"
	"github.com/aria-voice/aria/internal/speech"
	"github.com/aria-voice/aria/internal/store"
	"github.com/aria-voice/aria/internal/transcribe"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Controller *pipeline.Controller
	Hub        *httpapi.Hub
	Metrics    *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, broker, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	messages, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("message store init failed: %w", err)
	}

	synth, err := speech.NewExecSynthesizer(cfg.TTSCommand, cfg.TTSVoice)
	if err != nil {
		_ = messages.Close()
		return nil, fmt.Errorf("synthesizer init failed: %w", err)
	}

	recorder := capture.NewFFmpegRecorder(capture.Options{
		Command:    cfg.CaptureCommand,
		Device:     cfg.CaptureDevice,
		SampleRate: cfg.CaptureSampleRate,
		Dir:        cfg.CaptureDir,
	})

	dispatcher := dispatch.New(dispatch.MQTTOptions{
		Broker:      cfg.MQTTBroker,
		ClientID:    cfg.MQTTClientID,
		Username:    cfg.MQTTUsername,
		Password:    cfg.MQTTPassword,
		TopicPrefix: cfg.MQTTCommandTopic,
	})

	hub := httpapi.NewHub(metrics)

	controller := pipeline.NewController(pipeline.Options{
		Recorder:          recorder,
		Transcriber:       transcribe.NewClient(cfg.AssistBaseURL, cfg.SourceDeviceMAC, cfg.AssistTimeout),
		Querier:           assistant.NewClient(cfg.AssistBaseURL, cfg.SourceDeviceMAC, cfg.AssistTimeout),
		Synthesizer:       synth,
		Dispatcher:        dispatcher,
		Store:             messages,
		Notifier:          hub,
		Metrics:           metrics,
		STTModel:          cfg.DefaultSTTModel,
		LMModel:           cfg.DefaultLMModel,
		Language:          cfg.TranscribeLanguage,
		MinRecordDuration: cfg.MinRecordDuration,
		ScrubStoredPII:    cfg.ScrubStoredPII,
	})

	api := httpapi.New(cfg, controller, messages, hub, metrics)

	cleanup := func() error {
		var errs []string
		controller.StopProcessing()
		dispatcher.Close()
		if err := messages.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Controller: controller,
		Hub:        hub,
		Metrics:    metrics,
		Cleanup:    cleanup,
	}, nil
}
