package ledger

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"coinsender/internal/asset"
)

func newPostgresTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	store, err := NewPostgresStore(ctx, dsn, big.NewInt(7))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	return store, ctx
}

func TestPostgresMinFeeSeededOnce(t *testing.T) {
	store, ctx := newPostgresTestStore(t)

	var fee *big.Int
	err := store.View(ctx, func(tx Tx) error {
		var err error
		fee, err = tx.MinFee()
		return err
	})
	if err != nil {
		t.Fatalf("read min fee: %v", err)
	}
	if fee.Sign() < 0 {
		t.Fatalf("min fee must be non-negative, got %s", fee)
	}

	// reconnecting with a different default must not overwrite the stored fee
	again, err := NewPostgresStore(ctx, os.Getenv("POSTGRES_TEST_DSN"), big.NewInt(9999))
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer again.Close()

	var after *big.Int
	err = again.View(ctx, func(tx Tx) error {
		var err error
		after, err = tx.MinFee()
		return err
	})
	if err != nil {
		t.Fatalf("read min fee after reconnect: %v", err)
	}
	if after.Cmp(fee) != 0 {
		t.Fatalf("seed overwrote stored fee: %s -> %s", fee, after)
	}
}

func TestPostgresClaimRoundTrip(t *testing.T) {
	store, ctx := newPostgresTestStore(t)

	sender := common.HexToAddress("0x5e4de1")
	recipient := common.HexToAddress("0x4ec1b1")
	a := asset.Token(common.HexToAddress("0x70c1"))

	err := store.Update(ctx, func(tx Tx) error {
		return tx.PutClaim(&PendingClaim{
			Sender:    sender,
			Recipient: recipient,
			Asset:     a,
			Amount:    big.NewInt(125),
		})
	})
	if err != nil {
		t.Fatalf("put claim: %v", err)
	}

	// upsert on the same triple replaces the amount
	err = store.Update(ctx, func(tx Tx) error {
		return tx.PutClaim(&PendingClaim{
			Sender:    sender,
			Recipient: recipient,
			Asset:     a,
			Amount:    big.NewInt(300),
		})
	})
	if err != nil {
		t.Fatalf("upsert claim: %v", err)
	}

	err = store.View(ctx, func(tx Tx) error {
		got, err := tx.Claim(sender, recipient, a)
		if err != nil {
			return err
		}
		if got == nil || got.Amount.Cmp(big.NewInt(300)) != 0 {
			t.Fatalf("claim after upsert: %+v", got)
		}
		byRecipient, err := tx.ClaimsByRecipient(recipient)
		if err != nil {
			return err
		}
		if len(byRecipient) != 1 {
			t.Fatalf("got %d claims by recipient, want 1", len(byRecipient))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	err = store.Update(ctx, func(tx Tx) error {
		return tx.DeleteClaim(sender, recipient, a)
	})
	if err != nil {
		t.Fatalf("delete claim: %v", err)
	}
	err = store.View(ctx, func(tx Tx) error {
		got, err := tx.Claim(sender, recipient, a)
		if err != nil {
			return err
		}
		if got != nil {
			t.Fatalf("claim survived delete: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view after delete: %v", err)
	}
}

func TestPostgresTransferIDsNeverRepeat(t *testing.T) {
	store, ctx := newPostgresTestStore(t)

	var ids []uint64
	for i := 0; i < 3; i++ {
		err := store.Update(ctx, func(tx Tx) error {
			id, err := tx.NextTransferID()
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
		if err != nil {
			t.Fatalf("allocate id: %v", err)
		}
	}

	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not strictly increasing: %v", ids)
		}
	}

	// a fresh connection continues the sequence instead of restarting it
	again, err := NewPostgresStore(ctx, os.Getenv("POSTGRES_TEST_DSN"), big.NewInt(0))
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer again.Close()

	err = again.Update(ctx, func(tx Tx) error {
		id, err := tx.NextTransferID()
		if err != nil {
			return err
		}
		if id <= ids[len(ids)-1] {
			t.Fatalf("id %d reallocated after reconnect, last was %d", id, ids[len(ids)-1])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("allocate after reconnect: %v", err)
	}
}

func TestPostgresFailedUpdateLeavesNoTrace(t *testing.T) {
	store, ctx := newPostgresTestStore(t)

	sender := common.HexToAddress("0x5e4de2")
	recipient := common.HexToAddress("0x4ec1b2")
	a := asset.Native()

	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.PutClaim(&PendingClaim{
			Sender:    sender,
			Recipient: recipient,
			Asset:     a,
			Amount:    big.NewInt(50),
		}); err != nil {
			return err
		}
		return ErrNoPendingClaim
	})
	if err == nil {
		t.Fatal("update must propagate the callback error")
	}

	err = store.View(ctx, func(tx Tx) error {
		got, err := tx.Claim(sender, recipient, a)
		if err != nil {
			return err
		}
		if got != nil {
			t.Fatalf("rolled-back claim is visible: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
