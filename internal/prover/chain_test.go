package prover

import (
	"context"
	"testing"

	"github.com/ccoin/shielded/internal/curve"
)

type fakeProver struct {
	spendErr   error
	outputErr  error
	spendCalls int
	outputCalls int
}

func (f *fakeProver) ProveSpend(ctx context.Context, in SpendInputs) (SpendProof, error) {
	f.spendCalls++
	if f.spendErr != nil {
		return SpendProof{}, f.spendErr
	}
	return SpendProof{Proof: [192]byte{1}}, nil
}

func (f *fakeProver) ProveOutput(ctx context.Context, in OutputInputs) (OutputProof, error) {
	f.outputCalls++
	if f.outputErr != nil {
		return OutputProof{}, f.outputErr
	}
	return OutputProof{Proof: [192]byte{1}}, nil
}

func validSpendInputs() SpendInputs {
	return SpendInputs{
		Ask:    curve.ScalarFromBytes([]byte{1}),
		Nsk:    curve.ScalarFromBytes([]byte{2}),
		Value:  100,
		Anchor: curve.FieldFromBytes([]byte{9}),
	}
}

func TestChainProverFallsBackOnRetryableError(t *testing.T) {
	local := &fakeProver{spendErr: &ProverError{Kind: KindUnavailable}}
	remote := &fakeProver{}
	cp := &ChainProver{Local: local, Remote: remote}

	_, err := cp.ProveSpend(context.Background(), validSpendInputs())
	if err != nil {
		t.Fatalf("ProveSpend: %v", err)
	}
	if local.spendCalls != 1 || remote.spendCalls != 1 {
		t.Fatalf("expected one call each, got local=%d remote=%d", local.spendCalls, remote.spendCalls)
	}
}

func TestChainProverDoesNotRetryInvalidInput(t *testing.T) {
	local := &fakeProver{spendErr: &ProverError{Kind: KindInvalidInput}}
	remote := &fakeProver{}
	cp := &ChainProver{Local: local, Remote: remote}

	_, err := cp.ProveSpend(context.Background(), validSpendInputs())
	if err == nil {
		t.Fatal("expected an error to propagate")
	}
	if remote.spendCalls != 0 {
		t.Fatal("InvalidInput must never be retried against the remote backend")
	}
}

func TestChainProverErrorsWithoutAnyBackend(t *testing.T) {
	cp := &ChainProver{}
	_, err := cp.ProveSpend(context.Background(), validSpendInputs())
	if err == nil {
		t.Fatal("expected an error when no backend is configured")
	}
}

func TestValidateSpendRejectsOversizeValue(t *testing.T) {
	in := validSpendInputs()
	in.Value = MaxValue + 1
	if err := validateSpend(in); err == nil {
		t.Fatal("expected ErrInvalidInput for an out-of-range value")
	}
}

func TestValidateSpendRejectsAllZeroSpendingKey(t *testing.T) {
	in := validSpendInputs()
	in.Ask = curve.Scalar{}
	in.Nsk = curve.Scalar{}
	if err := validateSpend(in); err == nil {
		t.Fatal("expected ErrInvalidInput for an all-zero spending key")
	}
}

func TestValidateSpendRejectsMissingAnchor(t *testing.T) {
	in := validSpendInputs()
	in.Anchor = curve.FieldElement{}
	if err := validateSpend(in); err == nil {
		t.Fatal("expected ErrInvalidInput for a missing anchor")
	}
}

func TestProveSpendsConcurrentlyPropagatesError(t *testing.T) {
	p := &fakeProver{spendErr: &ProverError{Kind: KindInternal}}
	_, err := ProveSpendsConcurrently(context.Background(), p, []SpendInputs{validSpendInputs(), validSpendInputs()})
	if err == nil {
		t.Fatal("expected the first backend error to propagate")
	}
}

func TestBatchSizeIsBoundedByBothInputs(t *testing.T) {
	if got := BatchSize(0); got != 1 {
		t.Fatalf("BatchSize(0) = %d, want 1 (never zero workers)", got)
	}
	if got := BatchSize(1); got != 1 {
		t.Fatalf("BatchSize(1) = %d, want 1", got)
	}
}
