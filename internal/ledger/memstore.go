package ledger

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"coinsender/internal/asset"
)

// MemStore keeps the ledger in memory. Update clones the whole state,
// applies the function to the clone, and swaps it in only on success, so a
// failed operation leaves everything byte-for-byte untouched. One mutex
// serializes all updates. Suitable for tests and local development.
type MemStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	claims    map[string]*PendingClaim
	transfers map[uint64]*VestingTransfer
	nextID    uint64
	minFee    *big.Int
	events    []Event
	eventSeq  uint64
}

func NewMemStore(defaultMinFee *big.Int) *MemStore {
	if defaultMinFee == nil {
		defaultMinFee = new(big.Int)
	}
	return &MemStore{
		state: &memState{
			claims:    make(map[string]*PendingClaim),
			transfers: make(map[uint64]*VestingTransfer),
			minFee:    new(big.Int).Set(defaultMinFee),
		},
		now: time.Now,
	}
}

func (s *MemStore) Update(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&memTx{state: next, now: s.now}); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *MemStore) View(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{state: s.state, now: s.now})
}

func (s *MemStore) Close() {}

func (st *memState) clone() *memState {
	out := &memState{
		claims:    make(map[string]*PendingClaim, len(st.claims)),
		transfers: make(map[uint64]*VestingTransfer, len(st.transfers)),
		nextID:    st.nextID,
		minFee:    new(big.Int).Set(st.minFee),
		events:    append([]Event(nil), st.events...),
		eventSeq:  st.eventSeq,
	}
	for k, c := range st.claims {
		out.claims[k] = c.clone()
	}
	for id, t := range st.transfers {
		out.transfers[id] = t.clone()
	}
	return out
}

type memTx struct {
	state *memState
	now   func() time.Time
}

func claimKey(sender, recipient common.Address, a asset.Asset) string {
	return strings.ToLower(sender.Hex()) + "/" + strings.ToLower(recipient.Hex()) + "/" + a.Key()
}

func (tx *memTx) Claim(sender, recipient common.Address, a asset.Asset) (*PendingClaim, error) {
	c, ok := tx.state.claims[claimKey(sender, recipient, a)]
	if !ok {
		return nil, nil
	}
	return c.clone(), nil
}

func (tx *memTx) PutClaim(c *PendingClaim) error {
	tx.state.claims[claimKey(c.Sender, c.Recipient, c.Asset)] = c.clone()
	return nil
}

func (tx *memTx) DeleteClaim(sender, recipient common.Address, a asset.Asset) error {
	delete(tx.state.claims, claimKey(sender, recipient, a))
	return nil
}

func (tx *memTx) ClaimsByRecipient(recipient common.Address) ([]*PendingClaim, error) {
	return tx.claimsWhere(func(c *PendingClaim) bool { return c.Recipient == recipient })
}

func (tx *memTx) ClaimsBySender(sender common.Address) ([]*PendingClaim, error) {
	return tx.claimsWhere(func(c *PendingClaim) bool { return c.Sender == sender })
}

func (tx *memTx) claimsWhere(keep func(*PendingClaim) bool) ([]*PendingClaim, error) {
	keys := make([]string, 0, len(tx.state.claims))
	for k, c := range tx.state.claims {
		if keep(c) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]*PendingClaim, 0, len(keys))
	for _, k := range keys {
		out = append(out, tx.state.claims[k].clone())
	}
	return out, nil
}

func (tx *memTx) NextTransferID() (uint64, error) {
	id := tx.state.nextID
	tx.state.nextID++
	return id, nil
}

func (tx *memTx) Transfer(id uint64) (*VestingTransfer, error) {
	t, ok := tx.state.transfers[id]
	if !ok {
		return nil, nil
	}
	return t.clone(), nil
}

func (tx *memTx) PutTransfer(t *VestingTransfer) error {
	tx.state.transfers[t.ID] = t.clone()
	return nil
}

func (tx *memTx) TransfersBySender(sender common.Address) ([]*VestingTransfer, error) {
	return tx.transfersWhere(func(t *VestingTransfer) bool { return t.Sender == sender })
}

func (tx *memTx) TransfersByRecipient(recipient common.Address) ([]*VestingTransfer, error) {
	return tx.transfersWhere(func(t *VestingTransfer) bool { return t.Recipient == recipient })
}

func (tx *memTx) transfersWhere(keep func(*VestingTransfer) bool) ([]*VestingTransfer, error) {
	out := make([]*VestingTransfer, 0)
	for _, t := range tx.state.transfers {
		if keep(t) {
			out = append(out, t.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) MinFee() (*big.Int, error) {
	return new(big.Int).Set(tx.state.minFee), nil
}

func (tx *memTx) SetMinFee(fee *big.Int) error {
	tx.state.minFee = new(big.Int).Set(fee)
	return nil
}

func (tx *memTx) AppendEvent(kind string, data map[string]string) error {
	tx.state.events = append(tx.state.events, Event{
		Seq:  tx.state.eventSeq,
		Kind: kind,
		At:   tx.now(),
		Data: data,
	})
	tx.state.eventSeq++
	return nil
}

func (tx *memTx) Events(limit int) ([]Event, error) {
	evs := tx.state.events
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	return append([]Event(nil), evs...), nil
}
