package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/internal/config"
	"github.com/martinemde/harness/internal/logging"
	"github.com/martinemde/harness/internal/tools"
	"github.com/martinemde/harness/llm"
)

var sessionFile string

func init() {
	runCmd.Flags().StringVarP(&sessionFile, "session", "s", "",
		"JSON transcript to resume from and save to")
}

// runCmd: harness run <prompt> [follow-up...]
var runCmd = &cobra.Command{
	Use:   "run <prompt> [follow-up...]",
	Short: "Run the agent on a prompt",
	Long: `Run sends the prompt to the model and executes the tools it calls until
it stops. Extra arguments are queued as follow-up prompts, delivered one
at a time once the model would otherwise stop.

Assistant text streams to stdout; tool activity is logged to stderr.
Interrupt (Ctrl-C) aborts the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log := logging.New(os.Stderr, level, !noColorFlag)
		return runAgent(cmd.Context(), cfg, log, args)
	},
}

func newAgent(cfg *config.Config, log *slog.Logger) (*agentloop.Agent, error) {
	model, err := cfg.ResolveModel()
	if err != nil {
		return nil, err
	}

	policy := llm.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		log.Warn("retrying model request", "attempt", attempt, "delay", delay, "error", err)
	}
	registry := llm.NewDefaultRegistry(llm.WithMiddleware(llm.WithRetry(policy)))

	env := tools.NewEnvironment(cfg.WorkDir, log)
	return agentloop.NewAgent(agentloop.AgentOptions{
		InitialState: &agentloop.AgentState{
			SystemPrompt:  tools.BuildSystemPrompt(env, cfg.SystemPrompt, model),
			Model:         model,
			ThinkingLevel: llm.ThinkingLevel(cfg.ThinkingLevel),
			Tools:         tools.All(env),
		},
		Streamer:            registry,
		SteeringMode:        agentloop.QueueMode(cfg.SteeringMode),
		FollowUpMode:        agentloop.QueueMode(cfg.FollowUpMode),
		GetAPIKey:           cfg.APIKey,
		MaxTokens:           cfg.MaxTokens,
		LoopDetectionWindow: cfg.LoopWindow,
		Logger:              log,
	}), nil
}

func runAgent(ctx context.Context, cfg *config.Config, log *slog.Logger, prompts []string) error {
	agent, err := newAgent(cfg, log)
	if err != nil {
		return err
	}
	if sessionFile != "" {
		history, err := loadSession(sessionFile)
		if err != nil {
			return err
		}
		agent.ReplaceMessages(history)
	}

	p := newPrinter(os.Stdout, log)
	agent.Subscribe(p.handle)
	for _, followUp := range prompts[1:] {
		agent.FollowUp(llm.NewUserMessage(followUp))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Warn("interrupted, aborting run")
		agent.Abort()
	}()

	log.Debug("starting run", "model", cfg.Model, "provider", cfg.Provider, "session", agent.ID())
	if err := agent.Prompt(ctx, prompts[0]); err != nil {
		return err
	}
	if err := agent.WaitForIdle(ctx); err != nil {
		return err
	}

	state := agent.State()
	if sessionFile != "" {
		if err := saveSession(sessionFile, state.Messages); err != nil {
			return err
		}
	}
	if state.Error != "" {
		return errors.New(state.Error)
	}
	return nil
}

func loadSession(path string) ([]llm.Message, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	messages, err := llm.UnmarshalMessages(data)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", path, err)
	}
	return messages, nil
}

func saveSession(path string, messages []llm.Message) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
