package exchange

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// ChainReader performs the two read-only on-chain calls the adapter needs:
// the CTF's ERC-1155 per-token raw balance, and the USDC ERC-20 balance. It
// wraps a single ethclient.Client (Polygon RPC) and is the only place
// go-ethereum's contract-call machinery is exercised outside of auth.go's
// EIP-712 signing.
type ChainReader struct {
	client      *ethclient.Client
	ctfAddress  common.Address
	usdcAddress common.Address
}

// NewChainReader dials rpcURL and returns a ChainReader scoped to the given
// CTF and USDC contract addresses.
func NewChainReader(rpcURL string, ctfAddress, usdcAddress common.Address) (*ChainReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &ChainReader{client: client, ctfAddress: ctfAddress, usdcAddress: usdcAddress}, nil
}

// Close releases the underlying RPC connection.
func (c *ChainReader) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

var (
	selectorBalanceOfERC20   = methodSelector("balanceOf(address)")
	selectorBalanceOfERC1155 = methodSelector("balanceOf(address,uint256)")
)

func methodSelector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func encodeAddress(addr common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], addr.Bytes())
	return out
}

func encodeUint256(v *big.Int) []byte {
	out := make([]byte, 32)
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// RawBalance returns owner's ERC-1155 CTF balance for tokenID, in raw
// 6-decimal on-chain units — the form step (1) of TradingEngine's merge
// check compares against MIN_MERGE_SIZE scaled the same way.
func (c *ChainReader) RawBalance(ctx context.Context, owner common.Address, tokenID *big.Int) (*big.Int, error) {
	data := append(append([]byte{}, selectorBalanceOfERC1155...), encodeAddress(owner)...)
	data = append(data, encodeUint256(tokenID)...)

	result, err := c.client.CallContract(ctx, callMsg(c.ctfAddress, data), nil)
	if err != nil {
		return nil, fmt.Errorf("ctf balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

// ethereumCallMsg is a thin alias so callers don't need to import both
// go-ethereum's root package and common for every call site.
type ethereumCallMsg = ethereum.CallMsg

// USDCBalance returns owner's USDC balance, converted from raw 6-decimal
// on-chain units to a human decimal.
func (c *ChainReader) USDCBalance(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	data := append(append([]byte{}, selectorBalanceOfERC20...), encodeAddress(owner)...)

	result, err := c.client.CallContract(ctx, callMsg(c.usdcAddress, data), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("usdc balanceOf: %w", err)
	}
	raw := new(big.Int).SetBytes(result)
	return decimal.NewFromBigInt(raw, -6), nil
}

func callMsg(to common.Address, data []byte) ethereumCallMsg {
	return ethereumCallMsg{To: &to, Data: data}
}
