package prover

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ChainProver tries Local first, falling back to Remote only on
// Unavailable/Transient/Timeout (§4.9 Backend selection). InvalidInput
// is never retried.
type ChainProver struct {
	Local  Prover // may be nil
	Remote Prover // may be nil
}

var _ Prover = (*ChainProver)(nil)

// ProveSpend implements Prover.
func (cp *ChainProver) ProveSpend(ctx context.Context, in SpendInputs) (SpendProof, error) {
	if cp.Local != nil {
		proof, err := cp.Local.ProveSpend(ctx, in)
		if err == nil || !isRetryable(err) || cp.Remote == nil {
			return proof, err
		}
	}
	if cp.Remote != nil {
		return cp.Remote.ProveSpend(ctx, in)
	}
	return SpendProof{}, &ProverError{Kind: KindUnavailable, Reason: errNoBackend.Error()}
}

// ProveOutput implements Prover.
func (cp *ChainProver) ProveOutput(ctx context.Context, in OutputInputs) (OutputProof, error) {
	if cp.Local != nil {
		proof, err := cp.Local.ProveOutput(ctx, in)
		if err == nil || !isRetryable(err) || cp.Remote == nil {
			return proof, err
		}
	}
	if cp.Remote != nil {
		return cp.Remote.ProveOutput(ctx, in)
	}
	return OutputProof{}, &ProverError{Kind: KindUnavailable, Reason: errNoBackend.Error()}
}

func isRetryable(err error) bool {
	pe, ok := err.(*ProverError)
	if !ok {
		return false
	}
	return pe.Retryable()
}

// BatchSize picks a worker-pool width bounded by both the number of
// descriptions to prove and the machine's core count (§5: "bounded
// worker pool of size min(n_cores, n_descriptions)").
func BatchSize(nDescriptions int) int {
	n := runtime.NumCPU()
	if nDescriptions < n {
		n = nDescriptions
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ProveSpendsConcurrently runs ProveSpend over every input with a
// worker pool bounded by BatchSize, stopping at the first error
// (golang.org/x/sync/errgroup, the same bounded fan-out pattern used
// across the rest of this engine's concurrency).
func ProveSpendsConcurrently(ctx context.Context, p Prover, inputs []SpendInputs) ([]SpendProof, error) {
	out := make([]SpendProof, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(BatchSize(len(inputs)))

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			proof, err := p.ProveSpend(gctx, in)
			if err != nil {
				return err
			}
			out[i] = proof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ProveOutputsConcurrently is the Output-description analogue of
// ProveSpendsConcurrently.
func ProveOutputsConcurrently(ctx context.Context, p Prover, inputs []OutputInputs) ([]OutputProof, error) {
	out := make([]OutputProof, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(BatchSize(len(inputs)))

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			proof, err := p.ProveOutput(gctx, in)
			if err != nil {
				return err
			}
			out[i] = proof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
