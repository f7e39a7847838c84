// Package importer implements the bulk key-import CLI mode (spec.md §4.9):
// reading a CSV of provider,secret pairs and loading them into the Key
// Repository. The key-management HTML UI itself stays out of scope per
// spec.md §1 — this is a one-shot CLI path only, reached via GATEWAY_MODE.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aikeygate/gateway/internal/httpserver"
	"github.com/aikeygate/gateway/pkg/keystore"
	"github.com/aikeygate/gateway/pkg/maincache"
)

// row is validated with the same struct-tag machinery the HTTP layer uses
// for request bodies, so a malformed CSV line fails with the same
// field-level detail a bad JSON request would.
type row struct {
	Provider string `validate:"required,lowercase"`
	Secret   string `validate:"required,min=8"`
}

// Result summarizes one import run.
type Result struct {
	Inserted map[string]int // provider -> valid rows passed to InsertMany (rows the repository skips as duplicates are still counted)
	Skipped  int            // rows that failed validation
}

// Import reads provider,secret rows from r (no header line) and inserts
// them via repo.InsertMany, batched per provider so each provider incurs a
// single repository call. On completion it invalidates the Main Cache
// entry for every provider it touched, so the next Main Cache Get rebuilds
// from the repository rather than serving a stale snapshot missing the
// newly imported keys.
func Import(ctx context.Context, r io.Reader, repo keystore.Repository, main *maincache.Cache, logger *slog.Logger) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	byProvider := make(map[string][]string)
	result := Result{Inserted: make(map[string]int)}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("importer: reading CSV: %w", err)
		}

		rr := row{
			Provider: strings.ToLower(strings.TrimSpace(record[0])),
			Secret:   strings.TrimSpace(record[1]),
		}
		if errs := httpserver.Validate(&rr); len(errs) > 0 {
			logger.Warn("importer: skipping invalid row", "provider", record[0], "errors", errs)
			result.Skipped++
			continue
		}

		byProvider[rr.Provider] = append(byProvider[rr.Provider], rr.Secret)
	}

	for provider, secrets := range byProvider {
		if err := repo.InsertMany(ctx, provider, secrets); err != nil {
			return result, fmt.Errorf("importer: inserting keys for %q: %w", provider, err)
		}
		result.Inserted[provider] = len(secrets)
		main.Invalidate(provider)
		logger.Info("importer: inserted keys", "provider", provider, "count", len(secrets))
	}

	return result, nil
}
