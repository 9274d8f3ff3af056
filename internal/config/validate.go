package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command needs before it touches any
// external system. Mode is one of: ura, propnex, ocr, store, serve.
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
	}

	switch mode {
	case "store":
		requireStore()
	case "ura":
		requireStore()
		if c.URA.AccessKey == "" {
			errs = append(errs, "ura.access_key is required")
		}
		if c.URA.Batches < 1 {
			errs = append(errs, "ura.batches must be >= 1")
		}
	case "propnex":
		requireStore()
		if c.PropNex.Token == "" {
			errs = append(errs, "propnex.token is required")
		}
		if c.PropNex.ProjectEnd < c.PropNex.ProjectStart {
			errs = append(errs, "propnex.project_end must be >= project_start")
		}
	case "ocr":
		requireStore()
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "serve":
		requireStore()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Reconcile.QueryChunk < 1 || c.Reconcile.WriteChunk < 1 {
		errs = append(errs, "reconcile chunk sizes must be >= 1")
	}
	if c.Reconcile.MaxAttempts < 1 {
		errs = append(errs, "reconcile.max_attempts must be >= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
