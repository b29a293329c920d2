package asset

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseNativeSentinel(t *testing.T) {
	a, err := Parse(NativeSentinel)
	if err != nil {
		t.Fatalf("parse sentinel: %v", err)
	}
	if !a.IsNative() {
		t.Fatal("sentinel must parse as the native asset")
	}
	if a.String() != NativeSentinel {
		t.Fatalf("round trip: got %s, want %s", a.String(), NativeSentinel)
	}
	if _, ok := a.TokenAddress(); ok {
		t.Fatal("native asset has no token address")
	}
}

func TestParseToken(t *testing.T) {
	addr := common.HexToAddress("0x70c1")
	a, err := Parse(addr.Hex())
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if a.IsNative() {
		t.Fatal("token address must not parse as native")
	}
	got, ok := a.TokenAddress()
	if !ok || got != addr {
		t.Fatalf("token address: got %s, want %s", got.Hex(), addr.Hex())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "native", "0x123", "not-an-address"} {
		if _, err := Parse(s); err == nil {
			t.Fatalf("Parse(%q) must fail", s)
		}
	}
}

func TestTokenConstructorMapsSentinel(t *testing.T) {
	a := Token(common.HexToAddress(NativeSentinel))
	if !a.IsNative() {
		t.Fatal("sentinel address must map to the native asset")
	}
}

func TestKeyIsCaseInsensitive(t *testing.T) {
	upper, err := Parse("0x70C1000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	lower, err := Parse("0x70c1000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if upper.Key() != lower.Key() {
		t.Fatalf("keys differ: %s vs %s", upper.Key(), lower.Key())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	for _, a := range []Asset{Native(), Token(common.HexToAddress("0x70c1"))} {
		raw, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("marshal %s: %v", a, err)
		}
		var back Asset
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if back != a {
			t.Fatalf("round trip: got %s, want %s", back, a)
		}
	}
}
