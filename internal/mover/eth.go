package mover

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"coinsender/internal/asset"
	"coinsender/internal/contracts"
)

const nativeTransferGas = 21000

// EthMover settles asset movements on chain from a dedicated escrow account.
// Token pulls use transferFrom and require the sender's prior allowance to
// the escrow address; token pushes are plain transfers. Native pushes spend
// from the escrow account directly. Native pulls cannot be initiated by the
// service and must arrive as deposits to the escrow address, so Pull on the
// native asset reports a transfer failure.
type EthMover struct {
	client  *ethclient.Client
	erc20   abi.ABI
	key     *ecdsa.PrivateKey
	escrow  common.Address
	chainID *big.Int
	opts    *bind.TransactOpts
}

type EthMoverConfig struct {
	RPCURL        string
	PrivateKeyHex string
}

func NewEthMover(ctx context.Context, cfg EthMoverConfig) (*EthMover, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("escrow private key is required")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}

	return &EthMover{
		client:  cli,
		erc20:   parsedABI,
		key:     key,
		escrow:  crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		opts:    opts,
	}, nil
}

// EscrowAddress is the on-chain account holding custodied funds.
func (m *EthMover) EscrowAddress() common.Address {
	return m.escrow
}

func (m *EthMover) Pull(ctx context.Context, a asset.Asset, from common.Address, amount *big.Int) error {
	if a.IsNative() {
		return fmt.Errorf("%w: native deposits must be sent to the escrow address %s", ErrTransferFailed, m.escrow.Hex())
	}
	token, _ := a.TokenAddress()
	if _, err := m.transact(ctx, token, "transferFrom", from, m.escrow, amount); err != nil {
		return fmt.Errorf("%w: pull %s of %s from %s: %v", ErrTransferFailed, amount, a, from.Hex(), err)
	}
	return nil
}

func (m *EthMover) Push(ctx context.Context, a asset.Asset, to common.Address, amount *big.Int) error {
	if a.IsNative() {
		if err := m.pushNative(ctx, to, amount); err != nil {
			return fmt.Errorf("%w: push %s native to %s: %v", ErrTransferFailed, amount, to.Hex(), err)
		}
		return nil
	}
	token, _ := a.TokenAddress()
	if _, err := m.transact(ctx, token, "transfer", to, amount); err != nil {
		return fmt.Errorf("%w: push %s of %s to %s: %v", ErrTransferFailed, amount, a, to.Hex(), err)
	}
	return nil
}

func (m *EthMover) transact(ctx context.Context, token common.Address, method string, args ...interface{}) (*types.Transaction, error) {
	bound := bind.NewBoundContract(token, m.erc20, m.client, m.client, m.client)
	opts := *m.opts
	opts.Context = ctx
	return bound.Transact(&opts, method, args...)
}

func (m *EthMover) pushNative(ctx context.Context, to common.Address, amount *big.Int) error {
	nonce, err := m.client.PendingNonceAt(ctx, m.escrow)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := m.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, to, amount, nativeTransferGas, gasPrice, nil)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(m.chainID), m.key)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	return m.client.SendTransaction(ctx, signed)
}

func (m *EthMover) Ping(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := m.client.BlockNumber(ctx)
	return err
}
