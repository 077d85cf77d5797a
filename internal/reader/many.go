package reader

import (
	"context"
	"runtime"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/record"
)

// Region is one query in a QueryMany batch.
type Region struct {
	Ref   string
	Range genomics.Range
}

func (r Region) String() string {
	return r.Ref + ":" + r.Range.String()
}

// QueryMany answers every region concurrently, each worker with its own file
// handle. Results are returned in the order of regions. The first error
// cancels the remaining work.
func QueryMany(ctx context.Context, fs afero.Fs, path string, regions []Region, opts Options) ([][]record.Record, error) {
	results := make([][]record.Record, len(regions))
	if len(regions) == 0 {
		return results, nil
	}

	workers := min(runtime.NumCPU(), len(regions))
	jobs := make(chan int)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range regions {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for range workers {
		g.Go(func() error {
			r, err := Open(fs, path, opts)
			if err != nil {
				return err
			}
			defer r.Close()
			for i := range jobs {
				recs, err := r.Query(ctx, regions[i].Ref, regions[i].Range)
				if err != nil {
					return err
				}
				results[i] = recs
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
