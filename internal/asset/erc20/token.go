// Package erc20 implements the asset interface over an ERC-20 token via a
// JSON-RPC endpoint. Outbound transfers are signed with the operator key,
// which must control the pool account. Inbound pulls use the token's
// transferFrom and rely on an allowance granted to the operator.
package erc20

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// erc20ABI covers the three methods the ledger needs.
const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const (
	receiptPollInterval = 2 * time.Second
	receiptTimeout      = 2 * time.Minute
	gasLimitTransfer    = 120_000
)

// transferEventTopic is the Transfer(address,address,uint256) event signature.
var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Token is a domain.Asset backed by an ERC-20 contract.
type Token struct {
	client   *ethclient.Client
	abi      abi.ABI
	token    common.Address
	chainID  *big.Int
	operator *ecdsa.PrivateKey
	from     common.Address
	logger   *slog.Logger
}

var _ domain.Asset = (*Token)(nil)

// New dials the RPC endpoint and binds the token contract. When chainID is
// zero it is fetched from the node.
func New(ctx context.Context, rpcURL string, token common.Address, chainID int64, operator *ecdsa.PrivateKey, logger *slog.Logger) (*Token, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("erc20: dial %s: %w", rpcURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("erc20: parse ABI: %w", err)
	}

	id := big.NewInt(chainID)
	if chainID == 0 {
		id, err = client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("erc20: fetch chain id: %w", err)
		}
	}

	return &Token{
		client:   client,
		abi:      parsed,
		token:    token,
		chainID:  id,
		operator: operator,
		from:     crypto.PubkeyToAddress(operator.PublicKey),
		logger:   logger.With(slog.String("component", "erc20")),
	}, nil
}

// Operator returns the address transactions are signed with.
func (t *Token) Operator() common.Address {
	return t.from
}

// BalanceOf reads the token balance of addr.
func (t *Token) BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	data, err := t.abi.Pack("balanceOf", addr)
	if err != nil {
		return nil, fmt.Errorf("erc20: pack balanceOf: %w", err)
	}

	res, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &t.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("erc20: balanceOf call: %w", err)
	}

	out, err := t.abi.Unpack("balanceOf", res)
	if err != nil {
		return nil, fmt.Errorf("erc20: unpack balanceOf: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("erc20: balanceOf returned %d values, want 1", len(out))
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("erc20: balanceOf returned %T, want *big.Int", out[0])
	}

	v, overflow := uint256.FromBig(bal)
	if overflow {
		return nil, fmt.Errorf("erc20: balance of %s overflows uint256", addr.Hex())
	}
	return v, nil
}

// Transfer moves amount from the operator-controlled pool account to the
// recipient and waits for the transaction to be mined.
func (t *Token) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	data, err := t.abi.Pack("transfer", to, amount.ToBig())
	if err != nil {
		return fmt.Errorf("erc20: pack transfer: %w", err)
	}
	return t.send(ctx, data, "transfer", to)
}

// TransferFrom pulls amount from the payer into the recipient via the
// operator's allowance and waits for the transaction to be mined.
func (t *Token) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	data, err := t.abi.Pack("transferFrom", from, to, amount.ToBig())
	if err != nil {
		return fmt.Errorf("erc20: pack transferFrom: %w", err)
	}
	return t.send(ctx, data, "transferFrom", from)
}

// send signs a dynamic-fee transaction calling the token contract and blocks
// until the receipt confirms success.
func (t *Token) send(ctx context.Context, data []byte, method string, subject common.Address) error {
	nonce, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return fmt.Errorf("erc20: fetch nonce: %w", err)
	}

	tip, err := t.client.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("erc20: suggest tip: %w", err)
	}
	head, err := t.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("erc20: fetch head: %w", err)
	}
	// Fee cap: 2x base fee plus tip leaves headroom for the next block.
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)

	tx, err := types.SignNewTx(t.operator, types.LatestSignerForChainID(t.chainID), &types.DynamicFeeTx{
		ChainID:   t.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimitTransfer,
		To:        &t.token,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("erc20: sign %s: %w", method, err)
	}

	if err := t.client.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("erc20: send %s: %w", method, err)
	}

	t.logger.Info("transaction sent",
		slog.String("method", method),
		slog.String("subject", subject.Hex()),
		slog.String("tx", tx.Hash().Hex()))

	return t.waitMined(ctx, tx.Hash(), method)
}

// waitMined polls for the receipt until it lands, the context is cancelled,
// or the timeout elapses.
func (t *Token) waitMined(ctx context.Context, hash common.Hash, method string) error {
	ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("erc20: %s reverted in tx %s", method, hash.Hex())
			}
			// Some tokens signal failure by returning false instead of
			// reverting; those emit no Transfer event.
			if !t.transferLogged(receipt) {
				return fmt.Errorf("erc20: %s in tx %s emitted no transfer event", method, hash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("erc20: waiting for %s tx %s: %w", method, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// transferLogged reports whether the receipt carries a Transfer event from
// the token contract.
func (t *Token) transferLogged(receipt *types.Receipt) bool {
	for _, lg := range receipt.Logs {
		if lg.Address == t.token && len(lg.Topics) > 0 && lg.Topics[0] == transferEventTopic {
			return true
		}
	}
	return false
}

// Close releases the underlying RPC connection.
func (t *Token) Close() {
	t.client.Close()
}
