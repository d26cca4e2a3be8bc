package fiat

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/internal/config"
	"github.com/aurumvault/metalex_unified/internal/reconcile"
)

// ProviderSpecs builds the normalizer's provider registry from configuration.
// Only the dialects of configured, active providers are registered; an
// unknown provider path 404s at the normalizer.
func ProviderSpecs(providers map[string]config.ProviderConfig) map[string]reconcile.FiatProviderSpec {
	specs := map[string]reconcile.FiatProviderSpec{}
	for name, p := range providers {
		if !p.Active {
			continue
		}
		switch name {
		case "paystream":
			specs[name] = reconcile.PaystreamSpec([]byte(p.Secret))
		case "bankline":
			specs[name] = reconcile.BanklineSpec([]byte(p.Secret))
		}
	}
	return specs
}

// Routes mounts the provider webhook endpoints.
func Routes(router *gin.RouterGroup, normalizer *reconcile.Normalizer, processor *reconcile.Processor, logger *zap.Logger) {
	handler := NewHandler(normalizer, processor, logger)

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/fiat/:provider", handler.WebhookHandler)
	}
}
