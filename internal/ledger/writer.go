// Package ledger commits the computed fee rate to the on-chain contract.
// The writer is disabled for the whole process lifetime unless endpoint,
// signing key and contract address are all configured and the endpoint
// answered a chain-id probe at startup.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"feeoracle/internal/config"
	"feeoracle/internal/retry"
)

// updateFeeRateABI is the single contract entry point the oracle drives.
const updateFeeRateABI = `[{"inputs":[{"internalType":"uint256","name":"newFeeRate","type":"uint256"},{"internalType":"uint256","name":"indexValue","type":"uint256"}],"name":"updateDynamicFeeRate","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
	StatusDisabled  Status = "disabled"
	// StatusSkipped marks a run that never reached the commit stage.
	StatusSkipped Status = "skipped"
)

// CommitResult is the only thing Commit ever yields; no error escapes the
// writer boundary.
type CommitResult struct {
	Status      Status
	TxHash      string
	BlockNumber uint64
	Reason      string
}

// Backend is the slice of the Ethereum client the writer needs. Satisfied
// by *ethclient.Client.
type Backend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Writer struct {
	Logger *zap.Logger

	cfg      config.LedgerConfig
	enabled  bool
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	abi      abi.ABI

	// receiptPoll is how often the confirmation wait re-checks for a
	// receipt; shortened in tests.
	receiptPoll time.Duration
}

// New builds a writer. Missing configuration or an unreachable endpoint
// leaves the writer disabled rather than failing startup; the oracle keeps
// running and records Disabled outcomes.
func New(ctx context.Context, cfg config.LedgerConfig, logger *zap.Logger) *Writer {
	w := &Writer{Logger: logger, cfg: cfg, receiptPoll: 2 * time.Second}

	parsed, err := abi.JSON(strings.NewReader(updateFeeRateABI))
	if err != nil {
		// Static ABI, cannot happen outside a bad edit.
		w.warn("ledger abi parse failed", zap.Error(err))
		return w
	}
	w.abi = parsed

	if strings.TrimSpace(cfg.RPCURL) == "" {
		w.warn("ledger rpc_url not configured, on-chain updates disabled")
		return w
	}
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		w.warn("ledger private_key not configured, on-chain updates disabled")
		return w
	}
	if strings.TrimSpace(cfg.ContractAddress) == "" {
		w.warn("ledger contract_address not configured, on-chain updates disabled")
		return w
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		w.warn("ledger private key invalid, on-chain updates disabled", zap.Error(err))
		return w
	}
	if !common.IsHexAddress(strings.TrimSpace(cfg.ContractAddress)) {
		w.warn("ledger contract address invalid, on-chain updates disabled",
			zap.String("address", cfg.ContractAddress))
		return w
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		w.warn("ledger rpc dial failed, on-chain updates disabled", zap.Error(err))
		return w
	}
	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		w.warn("ledger rpc unreachable, on-chain updates disabled", zap.Error(err))
		return w
	}
	if cfg.ChainID > 0 && chainID.Int64() != cfg.ChainID {
		w.warn("ledger chain id mismatch, on-chain updates disabled",
			zap.Int64("configured", cfg.ChainID),
			zap.Int64("reported", chainID.Int64()),
		)
		return w
	}

	w.backend = client
	w.key = key
	w.from = crypto.PubkeyToAddress(key.PublicKey)
	w.contract = common.HexToAddress(strings.TrimSpace(cfg.ContractAddress))
	// Sign with the probed chain id so an unset chain_id follows the
	// endpoint's network instead of chain 0.
	w.chainID = chainID
	w.enabled = true

	if logger != nil {
		logger.Info("ledger writer enabled",
			zap.String("oracle_address", w.from.Hex()),
			zap.String("contract", w.contract.Hex()),
			zap.Int64("chain_id", chainID.Int64()),
		)
	}
	return w
}

func (w *Writer) Enabled() bool { return w.enabled }

// Commit sends updateDynamicFeeRate(feeRate, trunc(indexValue)) and reports
// one of the four outcomes. Nonce and gas price are read fresh on every
// attempt.
func (w *Writer) Commit(ctx context.Context, feeRate int, indexValue float64) CommitResult {
	if !w.enabled {
		return CommitResult{Status: StatusDisabled}
	}

	attempts := w.cfg.RetryCount
	if attempts <= 0 {
		attempts = 3
	}

	var result CommitResult
	err := retry.Do(ctx, attempts, w.cfg.RetryDelay, func(attempt int) error {
		if w.Logger != nil {
			w.Logger.Info("sending fee update",
				zap.Int("attempt", attempt),
				zap.Int("fee_rate_bps", feeRate),
				zap.Float64("index_value", indexValue),
			)
		}
		res, err := w.commitOnce(ctx, feeRate, indexValue)
		if err != nil {
			if w.Logger != nil {
				w.Logger.Warn("fee update attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return CommitResult{Status: StatusFailed, Reason: err.Error()}
	}
	return result
}

func (w *Writer) commitOnce(ctx context.Context, feeRate int, indexValue float64) (CommitResult, error) {
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return CommitResult{}, fmt.Errorf("gas price: %w", err)
	}
	capped, wasCapped := capGasPrice(gasPrice, w.cfg.MaxGasPriceGwei)
	if wasCapped && w.Logger != nil {
		// Degraded-cost submission beats a missed update.
		w.Logger.Warn("gas price above cap, proceeding with capped price",
			zap.String("suggested_wei", gasPrice.String()),
			zap.String("capped_wei", capped.String()),
		)
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return CommitResult{}, fmt.Errorf("nonce: %w", err)
	}

	input, err := w.abi.Pack("updateDynamicFeeRate",
		big.NewInt(int64(feeRate)),
		big.NewInt(int64(indexValue)),
	)
	if err != nil {
		return CommitResult{}, fmt.Errorf("abi pack: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: capped,
		Gas:      w.cfg.GasLimit,
		To:       &w.contract,
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return CommitResult{}, fmt.Errorf("sign: %w", err)
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return CommitResult{}, fmt.Errorf("submit: %w", err)
	}
	txHash := signed.Hash()
	if w.Logger != nil {
		w.Logger.Info("transaction sent", zap.String("tx", txHash.Hex()))
	}

	receipt, err := w.waitReceipt(ctx, txHash)
	if err != nil {
		// Sent but outcome unknown; surface that distinctly instead of
		// guessing either way.
		if w.Logger != nil {
			w.Logger.Warn("could not confirm transaction", zap.String("tx", txHash.Hex()), zap.Error(err))
		}
		return CommitResult{Status: StatusSubmitted, TxHash: txHash.Hex()}, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		if w.Logger != nil {
			w.Logger.Error("transaction reverted", zap.String("tx", txHash.Hex()))
		}
		return CommitResult{Status: StatusFailed, TxHash: txHash.Hex(), Reason: "contract reverted"}, nil
	}
	if w.Logger != nil {
		w.Logger.Info("transaction confirmed",
			zap.String("tx", txHash.Hex()),
			zap.Uint64("block", receipt.BlockNumber.Uint64()),
			zap.Uint64("gas_used", receipt.GasUsed),
		)
	}
	return CommitResult{
		Status:      StatusConfirmed,
		TxHash:      txHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

func (w *Writer) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	timeout := w.cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		receipt, err := w.backend.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		if err := retry.Sleep(waitCtx, w.receiptPoll); err != nil {
			return nil, fmt.Errorf("confirmation wait: %w", err)
		}
	}
}

// capGasPrice bounds price at maxGwei, reporting whether the cap applied.
func capGasPrice(price *big.Int, maxGwei int64) (*big.Int, bool) {
	if maxGwei <= 0 {
		return price, false
	}
	max := new(big.Int).Mul(big.NewInt(maxGwei), big.NewInt(params.GWei))
	if price.Cmp(max) > 0 {
		return max, true
	}
	return price, false
}

func (w *Writer) warn(msg string, fields ...zap.Field) {
	if w.Logger != nil {
		w.Logger.Warn(msg, fields...)
	}
}
