package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// remoteTimeout is the fixed per-attempt timeout for the remote HTTP
// proving backend (§4.9 Backend selection: "timeout 5 min, retried
// once").
const remoteTimeout = 5 * time.Minute

// RemoteProver calls an HTTP proving service, used as the fallback
// backend when no local prover is configured or the local backend
// reports itself unavailable.
type RemoteProver struct {
	baseURL string
	client  *http.Client
}

// NewRemoteProver constructs a RemoteProver against baseURL, using a
// client whose timeout matches the per-attempt budget.
func NewRemoteProver(baseURL string) *RemoteProver {
	return &RemoteProver{baseURL: baseURL, client: &http.Client{Timeout: remoteTimeout}}
}

type remoteSpendRequest struct {
	Ask        string   `json:"ask"`
	Nsk        string   `json:"nsk"`
	Value      uint64   `json:"value"`
	Rcv        string   `json:"rcv"`
	Alpha      string   `json:"alpha"`
	Anchor     string   `json:"anchor"`
	MerklePath []string `json:"merkle_path"`
	Position   uint64   `json:"position"`
}

type remoteProofResponse struct {
	Proof string `json:"proof"`
	Cv    string `json:"cv"`
	Rk    string `json:"rk,omitempty"`
	Cmu   string `json:"cmu,omitempty"`
	Error string `json:"error,omitempty"`
}

// ProveSpend implements Prover by POSTing to baseURL/spend.
func (rp *RemoteProver) ProveSpend(ctx context.Context, in SpendInputs) (SpendProof, error) {
	if err := validateSpend(in); err != nil {
		return SpendProof{}, err
	}

	path := make([]string, len(in.MerklePath))
	for i, f := range in.MerklePath {
		path[i] = hexEncode(f.Bytes())
	}
	req := remoteSpendRequest{
		Ask:        hexEncode(in.Ask.Bytes()),
		Nsk:        hexEncode(in.Nsk.Bytes()),
		Value:      in.Value,
		Rcv:        hexEncode(in.Rcv.Bytes()),
		Alpha:      hexEncode(in.Alpha.Bytes()),
		Anchor:     hexEncode(in.Anchor.Bytes()),
		MerklePath: path,
		Position:   in.Position,
	}

	var resp remoteProofResponse
	if err := rp.post(ctx, "/spend", req, &resp); err != nil {
		return SpendProof{}, err
	}

	proof, err := decodeFixed192(resp.Proof)
	if err != nil {
		return SpendProof{}, &ProverError{Kind: KindInternal, Reason: err.Error()}
	}
	if err := validateProofShape(proof); err != nil {
		return SpendProof{}, err
	}

	cv, rk, err := decodeTwo32(resp.Cv, resp.Rk)
	if err != nil {
		return SpendProof{}, &ProverError{Kind: KindInternal, Reason: err.Error()}
	}
	return SpendProof{Proof: proof, Cv: cv, Rk: rk}, nil
}

// ProveOutput implements Prover by POSTing to baseURL/output.
func (rp *RemoteProver) ProveOutput(ctx context.Context, in OutputInputs) (OutputProof, error) {
	if err := validateOutput(in); err != nil {
		return OutputProof{}, err
	}

	pkD := in.PkD.Compress()
	req := map[string]interface{}{
		"value":       in.Value,
		"rcv":         hexEncode(in.Rcv.Bytes()),
		"rcm":         hexEncode(in.Rcm.Bytes()),
		"diversifier": hexEncode(in.Diversifier[:]),
		"pk_d":        hexEncode(pkD[:]),
		"esk":         hexEncode(in.Esk.Bytes()),
	}

	var resp remoteProofResponse
	if err := rp.post(ctx, "/output", req, &resp); err != nil {
		return OutputProof{}, err
	}

	proof, err := decodeFixed192(resp.Proof)
	if err != nil {
		return OutputProof{}, &ProverError{Kind: KindInternal, Reason: err.Error()}
	}
	if err := validateProofShape(proof); err != nil {
		return OutputProof{}, err
	}

	cv, cmu, err := decodeTwo32(resp.Cv, resp.Cmu)
	if err != nil {
		return OutputProof{}, &ProverError{Kind: KindInternal, Reason: err.Error()}
	}
	return OutputProof{Proof: proof, Cv: cv, Cmu: cmu}, nil
}

// post sends one request and, if it fails Transient, Timeout or
// Unavailable while ctx is still live, sends it once more.
func (rp *RemoteProver) post(ctx context.Context, path string, body, out interface{}) error {
	err := rp.postOnce(ctx, path, body, out)
	var pe *ProverError
	if errors.As(err, &pe) && ctx.Err() == nil &&
		(pe.Kind == KindTransient || pe.Kind == KindTimeout || pe.Kind == KindUnavailable) {
		err = rp.postOnce(ctx, path, body, out)
	}
	return err
}

func (rp *RemoteProver) postOnce(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ProverError{Kind: KindInvalidInput, Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rp.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &ProverError{Kind: KindInternal, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rp.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &ProverError{Kind: KindTimeout, Reason: ctx.Err().Error()}
		}
		return &ProverError{Kind: KindTransient, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return &ProverError{Kind: KindUnavailable, Reason: "remote prover unavailable"}
	}
	if resp.StatusCode >= 500 {
		return &ProverError{Kind: KindTransient, Reason: "remote prover returned a server error"}
	}
	if resp.StatusCode != http.StatusOK {
		return &ProverError{Kind: KindInvalidInput, Reason: "remote prover rejected the request"}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProverError{Kind: KindInternal, Reason: err.Error()}
	}
	return nil
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0f]
	}
	return string(out)
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("prover: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, ok1 := hexNibble(s[i*2])
		lo, ok2 := hexNibble(s[i*2+1])
		if !ok1 || !ok2 {
			return nil, errors.New("prover: invalid hex digit")
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

func decodeFixed192(s string) ([192]byte, error) {
	b, err := hexDecode(s)
	if err != nil {
		return [192]byte{}, err
	}
	if len(b) != 192 {
		return [192]byte{}, errors.New("prover: proof is not 192 bytes")
	}
	var out [192]byte
	copy(out[:], b)
	return out, nil
}

func decodeTwo32(a, bStr string) ([32]byte, [32]byte, error) {
	var out1, out2 [32]byte
	ab, err := hexDecode(a)
	if err != nil || len(ab) != 32 {
		return out1, out2, errors.New("prover: malformed 32-byte field")
	}
	copy(out1[:], ab)
	if bStr == "" {
		return out1, out2, nil
	}
	bb, err := hexDecode(bStr)
	if err != nil || len(bb) != 32 {
		return out1, out2, errors.New("prover: malformed 32-byte field")
	}
	copy(out2[:], bb)
	return out1, out2, nil
}
