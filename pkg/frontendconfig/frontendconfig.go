// Package frontendconfig implements the FrontendConfigExporter (C10): a
// one-shot write of the UI-visible config snapshot to config.json.
// Grounded on original_source/backend/lab/core/config.py's
// Config.get_frontend_config plus the Runner's call-once-at-start wiring
// in original_source/backend/lab/main.py.
package frontendconfig

import (
	"context"
	"encoding/json"

	"github.com/ethpandaops/lab/internal/config"
	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/objectstore"
	"github.com/rs/zerolog"
)

// configKey is the well-known object-store key the front-end reads at
// startup, per spec.md §6.
const configKey = "config.json"

// Export composes a JSON snapshot of the enabled modules and networks and
// publishes it atomically. Size is small and latency uncritical, so a
// single put_atomic call is sufficient (spec.md §4.10).
func Export(ctx context.Context, cfg *config.Config, store objectstore.ObjectStore, logger zerolog.Logger) error {
	snapshot := cfg.FrontendConfig()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errs.New(errs.DataIntegrity, "frontendconfig.Export", err)
	}

	logger.Info().Str("key", configKey).Msg("publishing frontend config snapshot")
	if err := store.PutAtomic(ctx, configKey, data, objectstore.PutOptions{ContentType: "application/json"}); err != nil {
		logger.Error().Err(err).Msg("failed to publish frontend config snapshot")
		return err
	}
	return nil
}
