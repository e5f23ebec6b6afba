package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/ledgerlens/pkg/advisor"
	"github.com/ledgerlens/ledgerlens/pkg/budget"
	"github.com/ledgerlens/ledgerlens/pkg/cache"
	rediscache "github.com/ledgerlens/ledgerlens/pkg/cache/redis"
	sqlitecache "github.com/ledgerlens/ledgerlens/pkg/cache/sqlite"
	"github.com/ledgerlens/ledgerlens/pkg/config"
	"github.com/ledgerlens/ledgerlens/pkg/ledger"
	"github.com/ledgerlens/ledgerlens/pkg/llm"
	"github.com/ledgerlens/ledgerlens/pkg/logging"
	"github.com/ledgerlens/ledgerlens/pkg/search"
	"github.com/ledgerlens/ledgerlens/pkg/tracker"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     *logrus.Logger
	configErr  error

	client      *llm.Client
	ledger      *ledger.Store
	tracker     *tracker.SQLiteTracker
	cache       cache.Store
	cacheOpened bool
	closers     []func() error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadOrDefault(path)
		if err != nil {
			c.configErr = err
			return
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			c.configErr = err
			return
		}
		if dir := filepath.Dir(cfg.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				c.configErr = fmt.Errorf("create data directory: %w", err)
				return
			}
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// onClose registers fn to run after the command finishes.
func (c *commandContext) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

func (c *commandContext) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && c.logger != nil {
			c.logger.WithError(err).Warn("close failed")
		}
	}
	c.closers = nil
}

func (c *commandContext) openLedger() (*ledger.Store, error) {
	if c.ledger != nil {
		return c.ledger, nil
	}
	store, err := ledger.Open(c.config.DBPath)
	if err != nil {
		return nil, err
	}
	c.onClose(store.Close)
	c.ledger = store
	return store, nil
}

func (c *commandContext) openTracker() (*tracker.SQLiteTracker, error) {
	if c.tracker != nil {
		return c.tracker, nil
	}
	tr, err := tracker.New(c.config.DBPath)
	if err != nil {
		return nil, err
	}
	c.onClose(tr.Close)
	c.tracker = tr
	return tr, nil
}

// openCache returns the configured backend, or nil when caching is disabled.
func (c *commandContext) openCache(ctx context.Context) (cache.Store, error) {
	if c.cacheOpened || !c.config.Cache.Enabled {
		return c.cache, nil
	}
	var (
		store cache.Store
		err   error
	)
	switch c.config.Cache.Backend {
	case config.CacheBackendRedis:
		store, err = rediscache.New(ctx, c.config.Cache.RedisURL)
	case config.CacheBackendSQLite, "":
		store, err = sqlitecache.New(c.config.DBPath)
	default:
		err = fmt.Errorf("cache.backend: unknown %q", c.config.Cache.Backend)
	}
	if err != nil {
		return nil, err
	}
	c.onClose(store.Close)
	c.cache, c.cacheOpened = store, true
	return store, nil
}

// openEnforcer returns nil when budgets are disabled.
func (c *commandContext) openEnforcer(tr tracker.Tracker) *budget.Enforcer {
	if !c.config.Budget.Enabled || len(c.config.Budget.Policies) == 0 {
		return nil
	}
	return budget.New(c.config.Budget.Policies, tr)
}

// newLLMClient wires the model client with cache, usage tracking and budgets.
// The client is shared by every component of one command invocation so the
// fallback switch is seen by all of them.
func (c *commandContext) newLLMClient(ctx context.Context) (*llm.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	store, err := c.openCache(ctx)
	if err != nil {
		// The model client works without a cache.
		c.logger.WithError(err).Warn("response cache unavailable, continuing without it")
		store = nil
	}
	tr, err := c.openTracker()
	if err != nil {
		return nil, err
	}

	opts := []llm.Option{
		llm.WithUsageRecorder(tr),
		llm.WithLogger(c.logger),
	}
	if store != nil {
		opts = append(opts, llm.WithCache(store))
	}
	if enforcer := c.openEnforcer(tr); enforcer != nil {
		opts = append(opts, llm.WithBudget(enforcer))
	}

	llmCfg := c.config.LLM
	c.client = llm.NewClient(llm.Config{
		APIKey:        llmCfg.APIKey,
		BaseURL:       llmCfg.BaseURL,
		PrimaryModel:  llmCfg.PrimaryModel,
		FallbackModel: llmCfg.FallbackModel,
		MaxTokens:     llmCfg.MaxTokens,
		Timeout:       llmCfg.Timeout.Std(),
		RetryDelay:    llmCfg.RetryDelay.Std(),
		CacheTTL:      c.config.Cache.TTL.Std(),
	}, opts...)
	return c.client, nil
}

func (c *commandContext) newAdvisor(ctx context.Context) (*advisor.Advisor, error) {
	client, err := c.newLLMClient(ctx)
	if err != nil {
		return nil, err
	}
	searcher := search.NewClient(search.Config{
		BaseURL:  c.config.Search.BaseURL,
		APIKey:   c.config.Search.APIKey,
		EngineID: c.config.Search.EngineID,
	}, c.logger)
	c.onClose(searcher.Close)
	return advisor.New(client, searcher, c.config.ContextFile, c.logger), nil
}

// readInput reads the named file, or stdin for "" and "-".
func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("input is empty")
	}
	return string(data), nil
}
