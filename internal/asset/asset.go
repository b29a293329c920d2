package asset

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeSentinel is the reserved address that stands in for the native
// currency on the wire. Kept byte-for-byte compatible with the contract
// deployments this service replaces.
const NativeSentinel = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

var nativeSentinelAddr = common.HexToAddress(NativeSentinel)

// Asset identifies either the native currency or an ERC-20 token contract.
type Asset struct {
	token  common.Address
	native bool
}

// Native returns the native-currency asset.
func Native() Asset {
	return Asset{native: true}
}

// Token returns the asset for the given token contract.
func Token(addr common.Address) Asset {
	if addr == nativeSentinelAddr {
		return Native()
	}
	return Asset{token: addr}
}

// Parse decodes a hex address, mapping the sentinel to the native asset.
func Parse(s string) (Asset, error) {
	if !common.IsHexAddress(s) {
		return Asset{}, fmt.Errorf("invalid asset address %q", s)
	}
	return Token(common.HexToAddress(s)), nil
}

func (a Asset) IsNative() bool {
	return a.native
}

// TokenAddress returns the contract address for token assets.
func (a Asset) TokenAddress() (common.Address, bool) {
	if a.native {
		return common.Address{}, false
	}
	return a.token, true
}

// String renders the wire format: the sentinel for native, the checksummed
// contract address otherwise.
func (a Asset) String() string {
	if a.native {
		return NativeSentinel
	}
	return a.token.Hex()
}

// Key is a canonical lowercase form suitable for map keys and storage.
func (a Asset) Key() string {
	return strings.ToLower(a.String())
}

func (a Asset) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
