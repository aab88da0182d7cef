package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/txview/service/metrics"
	"github.com/brojonat/txview/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// ErrTransactionNotFound is returned when the RPC node has no record of a signature.
var ErrTransactionNotFound = errors.New("solana transaction not found")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client builds and reads backend-shaped Solana payloads.
// Every RPC call waits on a shared rate limiter.
type Client struct {
	rpc        RPCClient
	limiter    *rate.Limiter
	commitment rpc.CommitmentType
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a new Solana client allowing rps RPC calls per second.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, rps float64, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:        rpcClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		commitment: rpc.CommitmentFinalized,
		logger:     logger,
		metrics:    m,
	}
}

// BuildTransfer assembles the payload for an unsigned transfer, stamped with
// the latest blockhash and the block height after which it expires.
func (c *Client) BuildTransfer(ctx context.Context, params TransferParams) (*wallet.SolanaTxData, error) {
	if _, err := solana.PublicKeyFromBase58(params.FeePayer); err != nil {
		return nil, fmt.Errorf("invalid fee payer %q: %w", params.FeePayer, err)
	}
	if _, err := solana.PublicKeyFromBase58(params.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", params.To, err)
	}
	if params.IsSPL() {
		if _, err := solana.PublicKeyFromBase58(params.SPLTokenMint); err != nil {
			return nil, fmt.Errorf("invalid token mint %q: %w", params.SPLTokenMint, err)
		}
	}

	var blockhash *rpc.GetLatestBlockhashResult
	err := c.call(ctx, "GetLatestBlockhash", func(ctx context.Context) error {
		var err error
		blockhash, err = c.rpc.GetLatestBlockhash(ctx, c.commitment)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if blockhash == nil || blockhash.Value == nil {
		return nil, fmt.Errorf("failed to get latest blockhash: empty response")
	}

	data := &wallet.SolanaTxData{
		RecentBlockhash:      blockhash.Value.Blockhash.String(),
		LastValidBlockHeight: blockhash.Value.LastValidBlockHeight,
		FeePayer:             params.FeePayer,
		ToWalletAddress:      params.To,
		SendOptions:          params.SendOptions,
	}
	if params.IsSPL() {
		data.TxType = wallet.TxTypeSolanaSPLTokenTransfer
		data.SPLTokenMintAddress = params.SPLTokenMint
		data.Amount = params.Amount
	} else {
		data.TxType = wallet.TxTypeSolanaSystemTransfer
		data.Lamports = params.Lamports
	}

	c.logger.DebugContext(ctx, "built transfer payload",
		"fee_payer", data.FeePayer,
		"to", data.ToWalletAddress,
		"tx_type", data.TxType,
		"last_valid_block_height", data.LastValidBlockHeight,
	)

	return data, nil
}

// FetchTxData loads a confirmed transaction by signature and parses its payload.
func (c *Client) FetchTxData(ctx context.Context, signature string) (*wallet.SolanaTxData, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var result *rpc.GetTransactionResult
	err = c.call(ctx, "GetTransaction", func(ctx context.Context) error {
		var err error
		result, err = c.rpc.GetTransaction(ctx, sig, opts)
		return err
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", signature, err)
	}

	if result.Meta != nil && result.Meta.Err != nil {
		c.logger.WarnContext(ctx, "fetched transaction failed on chain",
			"signature", signature,
			"error", result.Meta.Err,
		)
	}

	return ParseTxData(tx)
}

// call waits on the rate limiter, runs fn and records the call.
func (c *Client) call(ctx context.Context, method string, fn func(context.Context) error) error {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	c.metrics.RecordRPCWait(method, time.Since(waitStart).Seconds())

	start := time.Now()
	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"
		c.logger.ErrorContext(ctx, "solana rpc call failed",
			"method", method,
			"error", err,
		)
	}
	c.metrics.RecordRPCCall(method, status, time.Since(start).Seconds())

	return err
}
