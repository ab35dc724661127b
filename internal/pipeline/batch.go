package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunBatch runs each input set in its own run context, at most limit at a
// time (limit <= 0 means unbounded). Results keep input order. The first
// failure cancels runs that have not started.
func (r *Runner) RunBatch(ctx context.Context, inputs []Inputs, limit int) ([]*Result, error) {
	results := make([]*Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.Run(gctx, in)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return results, nil
}

// LoadInputs reads every manifest. It fails on the first bad manifest so a
// batch never starts half-configured.
func LoadInputs(paths []string) ([]Inputs, error) {
	out := make([]Inputs, 0, len(paths))
	for _, p := range paths {
		m, err := LoadManifest(p)
		if err != nil {
			return nil, err
		}
		in, err := m.Read()
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}
