package workspace

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/stacklens/internal/core/resolve"
)

// DefaultConcurrency bounds ResolveAll when no limit is given.
const DefaultConcurrency = 4

// Input is one project to resolve.
type Input struct {
	ID      string
	Name    string
	Text    string
	Options resolve.Options
}

// Output pairs an input with its result.
type Output struct {
	ID     string
	Name   string
	Result *resolve.ParseResult
}

// ResolveAll resolves independent projects concurrently, at most limit at a
// time. Outputs keep input order. It stops early only when ctx is cancelled.
func ResolveAll(ctx context.Context, inputs []Input, limit int, logger *slog.Logger) ([]Output, error) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	outputs := make([]Output, len(inputs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, in := range inputs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			result := resolve.Resolve(in.Text, in.Options)
			logDiagnostics(logger, in.Name, result)

			outputs[i] = Output{ID: in.ID, Name: in.Name, Result: result}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func logDiagnostics(logger *slog.Logger, project string, result *resolve.ParseResult) {
	for _, d := range result.Diagnostics {
		switch d.Kind {
		case resolve.KindFatal, resolve.KindInclude, resolve.KindExtends, resolve.KindVariable:
			logger.Warn("resolution diagnostic",
				"project", project,
				"kind", d.Kind,
				"stage", d.Stage,
				"message", d.Message)
		default:
			logger.Debug("resolution diagnostic",
				"project", project,
				"kind", d.Kind,
				"stage", d.Stage,
				"message", d.Message)
		}
	}
}
