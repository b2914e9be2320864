package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"creditScope/internal/claims"
	"creditScope/internal/ledger"
	"creditScope/internal/model"
	"creditScope/internal/price"
	"creditScope/internal/registry"
)

const (
	testChainID = 56

	usdcAddr   = "0x1111111111111111111111111111111111111111"
	vdUSDCAddr = "0x3333333333333333333333333333333333333333"
	aUSDCAddr  = "0x4444444444444444444444444444444444444444"
)

type fixedHeight uint64

func (h fixedHeight) LatestBlockNumber(context.Context) (uint64, error) {
	return uint64(h), nil
}

type testServer struct {
	server      *Server
	attestorKey *ecdsa.PrivateKey
	callerKey   *ecdsa.PrivateKey
	caller      common.Address
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	attestorKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate attestor key: %v", err)
	}
	callerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate caller key: %v", err)
	}

	reg, err := registry.NewStaticFromEntries([]registry.Entry{
		{ChainID: testChainID, Protocol: "aave", Underlying: usdcAddr, Role: "variable-debt", RoleToken: vdUSDCAddr},
		{ChainID: testChainID, Protocol: "aave", Underlying: usdcAddr, Role: "reserve", RoleToken: aUSDCAddr},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	normalizer, err := price.NewStatic(8, nil)
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}

	cfg := ledger.Config{Stables: map[uint64][]common.Address{
		testChainID: {common.HexToAddress(usdcAddr)},
	}}
	ledgerSvc := ledger.New(cfg, ledger.NewMemoryStore(), reg, normalizer, nil)
	dispatcher := claims.NewDispatcher(ledgerSvc, claims.NewSealVerifier(crypto.PubkeyToAddress(attestorKey.PublicKey)), nil)

	factory := func(common.Address) (price.Normalizer, error) {
		return price.NewStatic(8, nil)
	}

	server := NewServer(Config{AdminToken: "hunter2"}, dispatcher, ledgerSvc, fixedHeight(20_000_000), factory, nil, nil, nil)

	return &testServer{
		server:      server,
		attestorKey: attestorKey,
		callerKey:   callerKey,
		caller:      crypto.PubkeyToAddress(callerKey.PublicKey),
	}
}

func (ts *testServer) submitClaim(t *testing.T, observations []model.Observation) *httptest.ResponseRecorder {
	t.Helper()

	claim := claims.Claim{
		Claimant:     ts.caller.Hex(),
		Protocol:     model.ProtocolAave,
		Observations: observations,
	}
	digest, err := claim.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	sealed := crypto.Keccak256Hash(claims.IngestSelector, ts.caller.Bytes(), digest.Bytes())
	seal, err := crypto.Sign(sealed.Bytes(), ts.attestorKey)
	if err != nil {
		t.Fatalf("sign seal: %v", err)
	}
	claim.Attestation = claims.Attestation{Selector: claims.IngestSelector, Seal: seal}

	personal := crypto.Keccak256Hash([]byte("\x19Ethereum Signed Message:\n32"), digest.Bytes())
	callerSig, err := crypto.Sign(personal.Bytes(), ts.callerKey)
	if err != nil {
		t.Fatalf("sign caller: %v", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"claim":            claim,
		"caller_signature": hexPrefix(callerSig),
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/claims", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func hexPrefix(b []byte) string {
	return fmt.Sprintf("0x%x", b)
}

func borrowObs(height uint64, balance string) model.Observation {
	return model.Observation{
		UnderlyingAsset: usdcAddr,
		RoleToken:       vdUSDCAddr,
		ChainID:         testChainID,
		BlockHeight:     height,
		Balance:         balance,
		Role:            model.RoleVariableDebt,
	}
}

func TestSubmitClaimEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.submitClaim(t, []model.Observation{borrowObs(100, "1000")})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Events  []model.LedgerEvent `json:"events"`
		Aborted bool                `json:"aborted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Aborted {
		t.Fatalf("unexpected abort: %s", rec.Body.String())
	}
	if len(resp.Events) != 1 || resp.Events[0].Kind != model.EventBorrowed || resp.Events[0].AmountUSD != 1000 {
		t.Fatalf("event mismatch: %+v", resp.Events)
	}
}

func TestSubmitClaimStableDebtReportsAbort(t *testing.T) {
	ts := newTestServer(t)

	stable := borrowObs(110, "500")
	stable.Role = model.RoleStableDebt

	rec := ts.submitClaim(t, []model.Observation{borrowObs(100, "1000"), stable})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Events  []model.LedgerEvent `json:"events"`
		Aborted bool                `json:"aborted"`
		Reason  string              `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Aborted || resp.Reason == "" {
		t.Fatalf("expected abort report, got %s", rec.Body.String())
	}
	if len(resp.Events) != 1 {
		t.Fatalf("expected one applied event, got %+v", resp.Events)
	}
}

func TestSubmitClaimWrongBindingRejected(t *testing.T) {
	ts := newTestServer(t)

	wrong := borrowObs(100, "1000")
	wrong.RoleToken = aUSDCAddr

	rec := ts.submitClaim(t, []model.Observation{wrong})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestScoreEndpoints(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.submitClaim(t, []model.Observation{borrowObs(100, "1000")}); rec.Code != http.StatusOK {
		t.Fatalf("seed claim: %d", rec.Code)
	}

	paths := []string{
		"/v1/users/" + ts.caller.Hex() + "/score",
		"/v1/users/" + ts.caller.Hex() + "/protocols/aave/score",
	}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		ts.server.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", path, rec.Code, rec.Body.String())
		}

		var resp struct {
			Score uint64 `json:"score"`
			Tier  string `json:"tier"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if resp.Score > 100 {
			t.Fatalf("%s: score out of range: %d", path, resp.Score)
		}
		if resp.Tier == "" {
			t.Fatalf("%s: missing tier", path)
		}
	}
}

func TestScoreUnknownUserNotFound(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/0x00000000000000000000000000000000000000FF/score", nil)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRecordEndpoint(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.submitClaim(t, []model.Observation{borrowObs(100, "1000")}); rec.Code != http.StatusOK {
		t.Fatalf("seed claim: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users/"+ts.caller.Hex()+"/protocols/aave/record", nil)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var record model.ActivityRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.BorrowedTotal != 1000 || record.BorrowCount != 1 {
		t.Fatalf("record mismatch: %+v", record)
	}
}

func TestAdminSetNormalizer(t *testing.T) {
	ts := newTestServer(t)
	body := `{"oracle":"0x7777777777777777777777777777777777777777"}`

	// Missing token.
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/price-normalizer", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing token: status = %d", rec.Code)
	}

	// Wrong token.
	req = httptest.NewRequest(http.MethodPut, "/v1/admin/price-normalizer", bytes.NewBufferString(body))
	req.Header.Set("X-Admin-Token", "nope")
	rec = httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}

	// Zero oracle address.
	req = httptest.NewRequest(http.MethodPut, "/v1/admin/price-normalizer",
		bytes.NewBufferString(`{"oracle":"0x0000000000000000000000000000000000000000"}`))
	req.Header.Set("X-Admin-Token", "hunter2")
	rec = httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero oracle: status = %d", rec.Code)
	}

	// Valid swap.
	req = httptest.NewRequest(http.MethodPut, "/v1/admin/price-normalizer", bytes.NewBufferString(body))
	req.Header.Set("X-Admin-Token", "hunter2")
	rec = httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid swap: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var change model.ConfigChange
	if err := json.Unmarshal(rec.Body.Bytes(), &change); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if change.Name != "price-normalizer" || change.Current != common.HexToAddress("0x7777777777777777777777777777777777777777").Hex() {
		t.Fatalf("change mismatch: %+v", change)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
