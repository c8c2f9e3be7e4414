// Package cmd holds the shared constructors the loom daemons assemble
// their dependencies with.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/persistence/file"
	"github.com/brianstittsr/loom/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence implementation from the URL
// scheme: postgres:// and postgresql:// select PostgreSQL, everything
// else is treated as a file root (optionally prefixed file://).
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgresql persistence: %w", err)
		}

		return p, nil
	default:
		root := strings.TrimPrefix(databaseURL, "file://")

		p, err := file.NewPersistence(root)
		if err != nil {
			return nil, fmt.Errorf("file persistence: %w", err)
		}

		return p, nil
	}
}
