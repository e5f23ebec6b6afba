// Package mcp exposes LedgerLens scenario parsing, generation, cache and
// usage reporting as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/ledgerlens/pkg/logging"
	"github.com/ledgerlens/ledgerlens/pkg/models"
	"github.com/ledgerlens/ledgerlens/pkg/scenario"
	"github.com/ledgerlens/ledgerlens/pkg/tracker"
)

// CacheStatter provides cache statistics without coupling to a concrete cache implementation.
type CacheStatter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// BudgetReporter reports usage against budget policies.
type BudgetReporter interface {
	Status(ctx context.Context) ([]models.BudgetStatus, error)
}

// ScenarioGenerator asks the model for scenarios from current figures.
type ScenarioGenerator interface {
	Generate(ctx context.Context, snap scenario.FinancialSnapshot, biz models.BusinessContext) (models.ScenarioSet, error)
}

// Services are the components tools call into. Nil members disable the
// tools that need them.
type Services struct {
	Tracker   tracker.Tracker
	Cache     CacheStatter
	Budget    BudgetReporter
	Parser    *scenario.Parser
	Generator ScenarioGenerator
}

// Server is an MCP server bound to the LedgerLens services.
type Server struct {
	svc    Services
	mcp    *server.MCPServer
	logger logrus.FieldLogger
}

// New creates a Server and registers its tools.
func New(svc Services, version string, logger logrus.FieldLogger) *Server {
	s := &Server{
		svc:    svc,
		logger: logging.Component(logger, "mcp"),
		mcp: server.NewMCPServer("ledgerlens", version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
	}
	if s.svc.Parser == nil {
		s.svc.Parser = scenario.NewParser(logger)
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Run serves JSON-RPC requests read from r and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.logger.Info("mcp server listening on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, r, w)
}
