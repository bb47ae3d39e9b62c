package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campaignops/api/internal/client"
	"github.com/campaignops/api/internal/config"
	"github.com/campaignops/api/internal/gateway"
	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/orchestrator"
	"github.com/campaignops/api/internal/poller"
)

type globalOptions struct {
	url     string
	token   string
	verbose bool
	push    bool
}

type commandContext struct {
	opts *globalOptions

	configOnce sync.Once
	config     *config.Config
	logger     *zap.Logger
	configErr  error
}

func newCommandContext(opts *globalOptions) *commandContext {
	return &commandContext{opts: opts}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if u := strings.TrimSpace(c.opts.url); u != "" {
			cfg.Processor.URL = u
		}
		if t := strings.TrimSpace(c.opts.token); t != "" {
			cfg.Processor.Token = t
		}
		if c.opts.push {
			cfg.Poll.Push = true
		}

		zcfg := zap.NewDevelopmentConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if c.opts.verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err := zcfg.Build()
		if err != nil {
			c.configErr = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}

		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func (c *commandContext) sync() {
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func (c *commandContext) processor() *client.ProcessorClient {
	return client.NewProcessorClient(&c.config.Processor, c.logger.Named("processor"))
}

// observer picks the push feed or the status poller
func (c *commandContext) observer(proc *client.ProcessorClient) poller.Observer {
	if c.config.Poll.Push {
		return client.NewFeed(proc.BaseURL(), proc.Token(), c.logger.Named("feed"))
	}
	return poller.New(proc, poller.Options{
		MaxAttempts: c.config.Poll.MaxAttempts,
		MaxDuration: c.config.Poll.MaxDuration,
		Logger:      c.logger.Named("poller"),
	})
}

func (c *commandContext) orchestrator(confirm func(context.Context, int) bool, onChange func([]model.Job)) *orchestrator.Orchestrator {
	proc := c.processor()
	gw := gateway.New(c.config.Processor.URL,
		gateway.WithToken(c.config.Processor.Token),
		gateway.WithLogger(c.logger.Named("gateway")),
	)
	return orchestrator.New(gw, c.observer(proc), proc, orchestrator.Config{
		PollInterval:      c.config.Poll.SubmissionInterval,
		RemoveAfter:       c.config.Orchestrator.RemoveAfter,
		MergeBatchSize:    c.config.Merge.BatchSize,
		MergeWarnAt:       c.config.Merge.WarnThreshold,
		ConfirmLargeMerge: confirm,
		Logger:            c.logger.Named("orchestrator"),
		OnChange:          onChange,
	})
}
