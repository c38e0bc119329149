package main

import (
	"net/http"

	"github.com/Belerafon/CookaReq-sub002/internal/config"
	"github.com/Belerafon/CookaReq-sub002/internal/engine"
	"github.com/Belerafon/CookaReq-sub002/internal/llm"
	"github.com/Belerafon/CookaReq-sub002/internal/mcpclient"
	"github.com/Belerafon/CookaReq-sub002/internal/mcpserver"
	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
	"github.com/Belerafon/CookaReq-sub002/internal/registry"
	"github.com/Belerafon/CookaReq-sub002/internal/requirements"
	"github.com/Belerafon/CookaReq-sub002/internal/tools"
	"github.com/Belerafon/CookaReq-sub002/internal/userdocs"
	"github.com/Belerafon/CookaReq-sub002/internal/wsfeed"
)

const systemPrompt = `You manage a requirements catalog and a user-document tree through the
tools you have been given. Prefer the narrowest tool for the job, state
assumptions you had to make, and ask for confirmation before anything
destructive if the tool itself does not already gate it.`

// buildRegistry wires the eighteen catalog tools onto a fresh registry,
// backed by in-memory reference services (SPEC_FULL.md §5/§6: the
// filesystem-backed document engine is out of this core's scope).
func buildRegistry(cfg config.Config) *registry.Registry {
	reg := registry.New()
	reqCache := requirements.NewCache(func(string) requirements.Service {
		return requirements.NewMemoryService()
	})
	docs := userdocs.NewMemoryService()

	tools.RegisterAll(reg, tools.Deps{
		RequirementsFor: func() requirements.Service { return reqCache.Get(cfg.RequirementsRoot) },
		UserDocs:        func() userdocs.Service { return docs },
	})
	return reg
}

// buildMCPServer builds (but does not start) the MCP HTTP server over reg.
// feed, if non-nil, is mounted at /ws so the running agent's live event
// stream is reachable over the same listener the tool catalog is served
// on.
func buildMCPServer(cfg config.Config, logger *obslog.Logger, reg *registry.Registry, feed *wsfeed.Feed) *mcpserver.Server {
	return mcpserver.New(mcpserver.Config{
		Addr:          cfg.MCPAddr,
		Token:         cfg.MCPToken,
		Logger:        logger,
		ShutdownGrace: config.ShutdownGrace,
		EventFeed:     feed,
	}, reg)
}

// buildEngine wires an mcpclient pointed at baseURL together with an LLM
// client into one Engine, returning both so callers can also probe
// readiness directly.
func buildEngine(cfg config.Config, logger *obslog.Logger, reg *registry.Registry, baseURL string) (*engine.Engine, *mcpclient.Client) {
	mc := mcpclient.New(mcpclient.Config{
		BaseURL:     baseURL,
		Token:       cfg.MCPToken,
		Logger:      logger,
		HTTPClient:  &http.Client{Timeout: config.MCPProbeTimeout},
	})
	llmClient := llm.New(llm.Config{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		Logger:     logger,
		HTTPClient: &http.Client{Timeout: config.LLMTimeout},
	})

	eng := engine.New(engine.Config{
		SystemPrompt: systemPrompt,
		LLM:          llmClient,
		ToolSchemas:  reg.Describe(),
		Tools:        mc,
		Logger:       logger,
	})
	return eng, mc
}
