package compiler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pendergraft/solcverify/internal/config"
)

// New wires a Provider, a ScriptCompiler and an Invoker from configuration.
func New(cfg config.CompilerConfig, logger *slog.Logger) (*Invoker, *Provider, error) {
	provider, err := NewProvider(ProviderConfig{
		CacheDir:  cfg.CacheDir,
		SolcHost:  cfg.SolcHost,
		VyperHost: cfg.VyperHost,
		Backoff: BackoffConfig{
			InitialTimeout: cfg.BackoffInitial(),
			Retries:        cfg.Retries,
		},
	}, &http.Client{}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating compiler provider: %w", err)
	}

	scripts, err := NewScriptCompiler(cfg.ScriptCacheSize, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating script compiler: %w", err)
	}

	invoker := NewInvoker(provider, scripts, InvokerConfig{
		MaxOutputBytes: cfg.MaxOutputBytes(),
		ForceScript:    cfg.ForceScript,
	}, logger)
	return invoker, provider, nil
}
