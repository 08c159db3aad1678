package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mkovalev/web-agent-brain/internal/brain"
	"github.com/mkovalev/web-agent-brain/internal/config"
	"github.com/mkovalev/web-agent-brain/internal/llm"
	"github.com/mkovalev/web-agent-brain/internal/memory"
	"github.com/mkovalev/web-agent-brain/internal/recorder"
	"github.com/mkovalev/web-agent-brain/internal/sitemap"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs after the root's PersistentPreRun.
type app struct {
	cfgPath string
	cfg     config.Config
	logger  zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "brain",
		Short:         "Decision backend for browser automation agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to config.yaml")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newRunCmd(a))
	root.AddCommand(newMemoryCmd(a))
	return root
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// deps is the wired object graph shared by serve and run.
type deps struct {
	oracle   llm.Client
	recall   *memory.Recall
	sitemap  *sitemap.Manager
	recorder *recorder.Recorder
	decider  *brain.Decider
	chatter  *brain.Chatter
	planner  *brain.Planner
}

func buildDeps(a *app) (*deps, error) {
	llmOpts := llm.Options{
		Provider:   a.cfg.LLM.Provider,
		BaseURL:    a.cfg.LLM.BaseURL,
		APIKey:     a.cfg.LLM.APIKey,
		Model:      a.cfg.LLM.Model,
		EmbedModel: a.cfg.LLM.EmbedModel,
		Timeout:    a.cfg.LLM.Timeout,
	}
	oracle, err := llm.NewClient(llmOpts, a.logger)
	if err != nil {
		return nil, err
	}

	d := &deps{oracle: oracle}

	if embedder, err := llm.NewEmbedder(llmOpts, a.logger); err != nil {
		a.logger.Warn().Err(err).Msg("embeddings unavailable, memory retrieval disabled")
	} else {
		store, err := memory.Open(a.cfg.MemoryPath, embedder, a.logger)
		if err != nil {
			return nil, err
		}
		d.recall = memory.NewRecall(store, a.logger)
	}

	sm, err := sitemap.Open(a.cfg.SitemapPath, a.logger)
	if err != nil {
		return nil, err
	}
	d.sitemap = sm
	d.recorder = recorder.New(a.cfg.DatasetDir, a.logger)

	var mem brain.Memory
	if d.recall != nil {
		mem = d.recall
	}
	d.decider = brain.NewDecider(oracle, mem, sm, d.recorder, brain.Config{
		MaxRetries:         a.cfg.MaxRetries,
		MaxSteps:           a.cfg.MaxSteps,
		VisionAttempts:     a.cfg.VisionAttempts,
		ClearBansOnNewTask: a.cfg.ClearBansOnNewTask,
		OracleTimeout:      a.cfg.OracleTimeout,
	}, a.logger)
	d.chatter = brain.NewChatter(oracle, a.logger)
	if d.recall != nil {
		d.planner = brain.NewPlanner(oracle, d.recall, sm, a.logger)
	}
	return d, nil
}

func openMemoryStore(a *app) (*memory.Store, error) {
	embedder, err := llm.NewEmbedder(llm.Options{
		Provider:   a.cfg.LLM.Provider,
		BaseURL:    a.cfg.LLM.BaseURL,
		APIKey:     a.cfg.LLM.APIKey,
		EmbedModel: a.cfg.LLM.EmbedModel,
		Timeout:    a.cfg.LLM.Timeout,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return memory.Open(a.cfg.MemoryPath, embedder, a.logger)
}
