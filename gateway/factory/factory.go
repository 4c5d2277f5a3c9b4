// Package factory registers the built-in provider kinds with a
// gateway.Registry. It imports the provider sub-packages and maps type
// tags to their constructors, keeping the gateway package free of
// provider imports (and the import cycle that would come with them).
//
// Registration happens once, at the composition root:
//
//	reg := factory.NewRegistry(logger)
//
// New backend kinds register the same way from their own packages.
package factory

import (
	"go.uber.org/zap"

	"github.com/BaSui01/typeflow/gateway"
	"github.com/BaSui01/typeflow/gateway/providers/mock"
	"github.com/BaSui01/typeflow/gateway/providers/openaicompat"
)

// RegisterBuiltins adds the built-in provider kinds to reg. The
// "openai-compatible" alias exists for tenant configs that point the
// OpenAI dialect at a non-OpenAI vendor and want that visible in the
// config.
func RegisterBuiltins(reg *gateway.Registry, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg.Register(mock.Type, func(cfg gateway.ProviderConfig, l *zap.Logger) (gateway.Provider, error) {
		return mock.New(cfg, l)
	})
	openaiFactory := func(cfg gateway.ProviderConfig, l *zap.Logger) (gateway.Provider, error) {
		return openaicompat.New(cfg, l)
	}
	reg.Register(openaicompat.Type, openaiFactory)
	reg.Register("openai-compatible", openaiFactory)
	logger.Info("built-in providers registered", zap.Strings("types", reg.Types()))
}

// NewRegistry builds a registry pre-populated with the built-ins.
func NewRegistry(logger *zap.Logger) *gateway.Registry {
	reg := gateway.NewRegistry(logger)
	RegisterBuiltins(reg, logger)
	return reg
}
