package hmacauth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestMiddlewareInjectsPrincipal(t *testing.T) {
	caller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	v := &Verifier{
		Secrets: map[common.Address]string{caller: "secret-1"},
		MaxSkew: time.Minute,
	}

	body := []byte(`{"hello":"world"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	var got common.Address
	var ok bool
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = Principal(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.Header.Set("X-Caller-Address", caller.Hex())
	req.Header.Set("X-Request-Timestamp", ts)
	req.Header.Set("X-Request-Signature", ComputeSignature("secret-1", ts, body))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if !ok || got != caller {
		t.Fatalf("expected principal %s, got %s (ok=%v)", caller.Hex(), got.Hex(), ok)
	}
}

func TestMiddlewareRejectsUnknownPrincipal(t *testing.T) {
	v := &Verifier{
		Secrets: map[common.Address]string{},
		MaxSkew: time.Minute,
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Caller-Address", "0x2222222222222222222222222222222222222222")
	req.Header.Set("X-Request-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Request-Signature", "deadbeef")

	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestMiddlewareRejectsWrongKey(t *testing.T) {
	caller := common.HexToAddress("0x3333333333333333333333333333333333333333")
	v := &Verifier{
		Secrets: map[common.Address]string{caller: "right-secret"},
		MaxSkew: time.Minute,
	}

	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.Header.Set("X-Caller-Address", caller.Hex())
	req.Header.Set("X-Request-Timestamp", ts)
	req.Header.Set("X-Request-Signature", ComputeSignature("wrong-secret", ts, body))

	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestMiddlewareRejectsStaleTimestamp(t *testing.T) {
	caller := common.HexToAddress("0x4444444444444444444444444444444444444444")
	v := &Verifier{
		Secrets: map[common.Address]string{caller: "secret"},
		MaxSkew: time.Minute,
		Now:     func() time.Time { return time.Unix(10_000, 0) },
	}

	ts := strconv.FormatInt(int64(10_000-3600), 10)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Caller-Address", caller.Hex())
	req.Header.Set("X-Request-Timestamp", ts)
	req.Header.Set("X-Request-Signature", ComputeSignature("secret", ts, []byte{}))

	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}
