package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"coinsender/internal/asset"
	"coinsender/internal/config"
	"coinsender/internal/gate"
	"coinsender/internal/hmacauth"
	"coinsender/internal/idempotency"
	"coinsender/internal/ledger"
	"coinsender/internal/mover"
)

const (
	ownerHex = "0x00000000000000000000000000000000000000a1"
	aliceHex = "0x000000000000000000000000000000000000a11c"
	bobHex   = "0x0000000000000000000000000000000000000b0b"
)

var secrets = map[string]string{
	ownerHex: "owner-secret",
	aliceHex: "alice-secret",
	bobHex:   "bob-secret",
}

type testServer struct {
	srv   *Server
	mover *mover.FakeMover
	gate  *gate.Gate
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.AppConfig{
		Seed: config.SeedConfig{
			Owner:          ownerHex,
			FeeBeneficiary: "0x00000000000000000000000000000000000000b1",
			MinFee:         "10",
			Principals:     secrets,
		},
		Service: config.ServiceConfig{
			HTTPPort:           0,
			HMACClockSkew:      time.Minute,
			IdempotencyWindow:  time.Minute,
			IdempotencyKeySalt: "test",
		},
	}

	mv := mover.NewFakeMover()
	g := gate.New(cfg.Owner())
	led := ledger.New(ledger.Params{
		Store:       ledger.NewMemStore(big.NewInt(10)),
		Mover:       mv,
		Gate:        g,
		Beneficiary: cfg.FeeBeneficiary(),
		Log:         log,
	})

	return &testServer{
		srv:   NewServer(cfg, led, g, idempotency.NewMemoryStore(), mv, log),
		mover: mv,
		gate:  g,
	}
}

func (ts *testServer) do(t *testing.T, method, path, callerHex string, body interface{}, extra map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if callerHex != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-Caller-Address", callerHex)
		req.Header.Set("X-Request-Timestamp", timestamp)
		req.Header.Set("X-Request-Signature", hmacauth.ComputeSignature(secrets[callerHex], timestamp, payload))
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/coins/send", "", map[string]interface{}{}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
}

func TestSendClaimFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.mover.Mint(asset.Native(), common.HexToAddress(aliceHex), big.NewInt(1000))

	rec := ts.do(t, http.MethodPost, "/api/v1/coins/send", aliceHex, map[string]interface{}{
		"asset":      asset.NativeSentinel,
		"recipients": []string{bobHex},
		"amounts":    []string{"100"},
		"fee":        "10",
		"value":      "110",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/coins/claims", bobHex, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("view status: got %d body %s", rec.Code, rec.Body.String())
	}
	claims := decodeBody(t, rec)["claims"].([]interface{})
	if len(claims) != 1 {
		t.Fatalf("got %d claims, want 1", len(claims))
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/coins/claim", bobHex, map[string]interface{}{
		"senders": []string{aliceHex},
		"assets":  []string{asset.NativeSentinel},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim status: got %d body %s", rec.Code, rec.Body.String())
	}
	payouts := decodeBody(t, rec)["payouts"].([]interface{})
	if len(payouts) != 1 {
		t.Fatalf("got %d payouts, want 1", len(payouts))
	}
	if got := ts.mover.BalanceOf(asset.Native(), common.HexToAddress(bobHex)); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bob balance: got %s, want 100", got)
	}
}

func TestClaimWithoutPendingEntryIs404(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/coins/claim", bobHex, map[string]interface{}{
		"senders": []string{aliceHex},
		"assets":  []string{asset.NativeSentinel},
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}

func TestMinFeeAdmin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/admin/min-fee", aliceHex, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read status: got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["minFee"]; got != "10" {
		t.Fatalf("min fee: got %v, want 10", got)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/min-fee", aliceHex, map[string]string{"minFee": "99"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner status: got %d, want 403", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/min-fee", ownerHex, map[string]string{"minFee": "99"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner status: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/min-fee", aliceHex, nil, nil)
	if got := decodeBody(t, rec)["minFee"]; got != "99" {
		t.Fatalf("min fee after change: got %v, want 99", got)
	}
}

func TestPauseBlocksSends(t *testing.T) {
	ts := newTestServer(t)
	ts.mover.Mint(asset.Native(), common.HexToAddress(aliceHex), big.NewInt(1000))

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/pause", aliceHex, nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner pause: got %d, want 403", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/pause", ownerHex, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/coins/send", aliceHex, map[string]interface{}{
		"asset":      asset.NativeSentinel,
		"recipients": []string{bobHex},
		"amounts":    []string{"100"},
		"fee":        "10",
		"value":      "110",
	}, nil)
	if rec.Code != http.StatusLocked {
		t.Fatalf("send while paused: got %d, want 423", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/unpause", ownerHex, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unpause: got %d", rec.Code)
	}
}

func TestIdempotentSendReplay(t *testing.T) {
	ts := newTestServer(t)
	alice := common.HexToAddress(aliceHex)
	ts.mover.Mint(asset.Native(), alice, big.NewInt(1000))

	body := map[string]interface{}{
		"asset":      asset.NativeSentinel,
		"recipients": []string{bobHex},
		"amounts":    []string{"100"},
		"fee":        "10",
		"value":      "110",
	}
	headers := map[string]string{"X-Idempotency-Key": "send-once"}

	rec := ts.do(t, http.MethodPost, "/api/v1/coins/send", aliceHex, body, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first send: got %d body %s", rec.Code, rec.Body.String())
	}
	spent := ts.mover.BalanceOf(asset.Native(), alice)

	rec = ts.do(t, http.MethodPost, "/api/v1/coins/send", aliceHex, body, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("replayed send: got %d", rec.Code)
	}
	if got := ts.mover.BalanceOf(asset.Native(), alice); got.Cmp(spent) != 0 {
		t.Fatalf("replay must not spend again: balance went from %s to %s", spent, got)
	}
}

func TestVestingFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.mover.Mint(asset.Native(), common.HexToAddress(aliceHex), big.NewInt(1000))
	ts.mover.Mint(asset.Native(), common.HexToAddress(bobHex), big.NewInt(100))

	start := time.Now().Unix() - 7200
	rec := ts.do(t, http.MethodPost, "/api/v1/vesting/send", aliceHex, map[string]interface{}{
		"asset":              asset.NativeSentinel,
		"recipients":         []string{bobHex},
		"amounts":            []string{"600"},
		"cliffDuration":      300,
		"start":              start,
		"duration":           3600,
		"slicePeriodSeconds": 60,
		"revocable":          true,
		"fee":                "10",
		"value":              "610",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("vesting send: got %d body %s", rec.Code, rec.Body.String())
	}
	ids := decodeBody(t, rec)["ids"].([]interface{})
	if len(ids) != 1 {
		t.Fatalf("got %d ids, want 1", len(ids))
	}

	// the schedule started two hours ago, so the full amount is releasable
	rec = ts.do(t, http.MethodPost, "/api/v1/vesting/claim", bobHex, map[string]interface{}{
		"ids":   []uint64{uint64(ids[0].(float64))},
		"fee":   "10",
		"value": "10",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("vesting claim: got %d body %s", rec.Code, rec.Body.String())
	}
	payouts := decodeBody(t, rec)["payouts"].([]interface{})
	amount := payouts[0].(map[string]interface{})["amount"]
	if amount != "600" {
		t.Fatalf("released: got %v, want 600", amount)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/health", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != "ok" {
		t.Fatalf("health status: got %v, want ok", got)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.mover.Mint(asset.Native(), common.HexToAddress(aliceHex), big.NewInt(1000))

	rec := ts.do(t, http.MethodPost, "/api/v1/coins/send", aliceHex, map[string]interface{}{
		"asset":      asset.NativeSentinel,
		"recipients": []string{bobHex},
		"amounts":    []string{"100"},
		"fee":        "10",
		"value":      "110",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/events?limit=5", aliceHex, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events: got %d", rec.Code)
	}
	events := decodeBody(t, rec)["events"].([]interface{})
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	kind := events[0].(map[string]interface{})["kind"]
	if kind != "sent" {
		t.Fatalf("event kind: got %v, want sent", kind)
	}
}

func TestRequestIDEchoedOnResponse(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/health", "", nil, nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("response must carry a generated request id")
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/health", "", nil, map[string]string{"X-Request-Id": "req-42"})
	if got := rec.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("client-provided request id: got %q, want req-42", got)
	}
}

func TestErrStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ledger.ErrFeeTooLow, http.StatusPaymentRequired},
		{ledger.ErrInsufficientPayment, http.StatusPaymentRequired},
		{ledger.ErrNoPendingClaim, http.StatusNotFound},
		{ledger.ErrUnauthorized, http.StatusForbidden},
		{ledger.ErrSystemPaused, http.StatusLocked},
		{ledger.ErrInvalidSchedule, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", ledger.ErrNotRevocable), http.StatusForbidden},
		{mover.ErrTransferFailed, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := errStatus(tc.err); got != tc.want {
			t.Fatalf("errStatus(%v): got %d, want %d", tc.err, got, tc.want)
		}
	}
}
