package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"npc-voice/internal/adapter/characters"
	"npc-voice/internal/adapter/gateway"
	"npc-voice/internal/adapter/llm"
	"npc-voice/internal/adapter/tts"
	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
	"npc-voice/internal/infra/logger"
	"npc-voice/internal/usecase/conversation"
	"npc-voice/internal/usecase/eventbus"
	"npc-voice/internal/usecase/function"
	"npc-voice/internal/usecase/rememberer"
	"npc-voice/internal/usecase/scheduling"
)

// app holds the running components that need an orderly shutdown.
type app struct {
	server        *gateway.Server
	conversations *conversation.Manager
	scheduler     *scheduling.Scheduler
	metrics       *gateway.Metrics
	bus           *eventbus.Bus
	functionCount int
	log           *slog.Logger
}

// build wires every component from cfg.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	bus := eventbus.New(logger.Component(log, "eventbus"))
	eventbus.LogEvents(bus, logger.Component(log, "events"))

	llmClient := newConversationLLM(cfg, log)

	voice, err := tts.New(cfg.TTS, logger.Component(log, "tts"))
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}

	roster, err := characters.Load(cfg.Characters, logger.Component(log, "characters"))
	if err != nil {
		return nil, fmt.Errorf("characters: %w", err)
	}

	memory, err := rememberer.New(cfg, llmClient, logger.Component(log, "rememberer"))
	if err != nil {
		return nil, fmt.Errorf("rememberer: %w", err)
	}

	svc := &conversation.CoreServices{
		Config:  cfg,
		LLM:     llmClient,
		TTS:     voice,
		Memory:  memory,
		Roster:  roster,
		Actions: cfg.Actions.Keywords,
		Bus:     bus,
		Logger:  logger.Component(log, "conversation"),
	}

	a := &app{bus: bus, log: log}
	if cfg.FunctionLLM.Enabled {
		registry, err := function.LoadRegistry(cfg.Actions.Dir, logger.Component(log, "function"))
		if err != nil {
			return nil, fmt.Errorf("functions: %w", err)
		}
		if registry.Len() > 0 {
			svc.Functions = function.NewManager(registry, newFunctionLLM(cfg, log), cfg.FunctionLLM.Prompt, logger.Component(log, "function"))
		}
		a.functionCount = registry.Len()
	}

	a.conversations, err = conversation.NewManager(svc)
	if err != nil {
		return nil, err
	}

	a.scheduler = scheduling.NewScheduler(log)
	if cfg.Scheduler.Enabled {
		janitor := scheduling.NewVoiceFileJanitor(cfg.TTS.OutputDir, cfg.TTS.Retention, bus, logger.Component(log, "janitor"))
		a.scheduler.RegisterAction(scheduling.ActionVoiceFileCleanup, janitor.Run)
		if err := a.scheduler.AddTask(scheduling.ScheduledTask{
			Name:       "voicefile_cleanup",
			Schedule:   cfg.Scheduler.VoiceFileCleanup,
			Action:     scheduling.ActionVoiceFileCleanup,
			RunAtStart: true,
		}); err != nil {
			return nil, err
		}
		if err := a.scheduler.Start(ctx); err != nil {
			return nil, err
		}
	}

	a.metrics = gateway.NewMetrics(bus)
	handler := gateway.NewHandler(a.conversations, cfg.Game.Name, log)
	a.server = gateway.NewServer(cfg.Server, handler, a.conversations, a.metrics, cfg.Game.Name, logger.Component(log, "http"))
	return a, nil
}

// shutdown ends live conversations so their memories are saved, then stops
// the background components.
func (a *app) shutdown(ctx context.Context) {
	a.conversations.Shutdown(ctx)
	if err := a.scheduler.Stop(); err != nil {
		a.log.Warn("scheduler stop failed", "error", err)
	}
	a.metrics.Close()
	a.bus.Close()
}

// newConversationLLM builds the main model client: provider, optional
// circuit breaker and the shared tokenizer.
func newConversationLLM(cfg *config.Config, log *slog.Logger) *llm.Client {
	l := logger.Component(log, "llm")
	var provider domain.StreamingLLMProvider = llm.NewOpenAIProvider(cfg.LLM.Provider, l)
	if cfg.LLM.CircuitBreaker.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, cfg.LLM.CircuitBreaker, l)
	}
	tokenizer := llm.NewTokenizer(cfg.LLM.Encoding, filepath.Join(cfg.Game.DataDir, "tiktoken"), l)
	return llm.NewClient(provider, tokenizer, cfg.LLM, l)
}

// newFunctionLLM builds the function-inference client. With use_main_llm
// the provider settings were copied from llm.provider at load.
func newFunctionLLM(cfg *config.Config, log *slog.Logger) *llm.FunctionClient {
	l := logger.Component(log, "function_llm")
	var provider domain.LLMProvider = llm.NewOpenAIProvider(cfg.FunctionLLM.Provider, l)
	if cfg.LLM.CircuitBreaker.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, cfg.LLM.CircuitBreaker, l)
	}
	return llm.NewFunctionClient(provider, cfg.FunctionLLM, l)
}
