package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/questforge/questforge/internal/connection"
	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

// EthBackend implements Client over a JSON-RPC node via the connection
// manager. Transaction senders are recovered locally from signatures so a
// plain eth_getBlockByNumber answer is enough for the block scan.
type EthBackend struct {
	manager connection.Manager
	signer  types.Signer
	metrics *metrics.Manager
}

// NewEthBackend creates a chain client over the given connection manager
func NewEthBackend(manager connection.Manager, networkID int64, metricsManager *metrics.Manager) *EthBackend {
	return &EthBackend{
		manager: manager,
		signer:  types.LatestSignerForChainID(big.NewInt(networkID)),
		metrics: metricsManager,
	}
}

// HeadBlockNumber returns the current chain head number
func (b *EthBackend) HeadBlockNumber(ctx context.Context) (uint64, error) {
	client, err := b.manager.GetClient(ctx)
	if err != nil {
		return 0, classifyRPCError(err, "failed to get client")
	}

	head, err := client.BlockNumber(ctx)
	b.recordRPC("eth_blockNumber", err)
	if err != nil {
		return 0, classifyRPCError(err, "failed to get chain head")
	}
	return head, nil
}

// BlockByNumber returns a block with its full transaction list
func (b *EthBackend) BlockByNumber(ctx context.Context, number uint64) (*models.Block, error) {
	client, err := b.manager.GetClient(ctx)
	if err != nil {
		return nil, classifyRPCError(err, "failed to get client")
	}

	block, err := client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	b.recordRPC("eth_getBlockByNumber", err)
	if err != nil {
		return nil, classifyRPCError(err, "failed to get block")
	}

	out := &models.Block{
		Number:    block.NumberU64(),
		Timestamp: time.Unix(int64(block.Time()), 0).UTC(),
	}
	for _, tx := range block.Transactions() {
		rec, ok := b.toTransaction(tx, out.Number, out.Timestamp)
		if !ok {
			continue
		}
		out.Transactions = append(out.Transactions, rec)
	}
	return out, nil
}

// FilterLogs returns references to transactions that emitted logs from the
// given contract set in [fromBlock, toBlock]
func (b *EthBackend) FilterLogs(ctx context.Context, addresses []common.Address, fromBlock, toBlock uint64) ([]models.LogRef, error) {
	client, err := b.manager.GetClient(ctx)
	if err != nil {
		return nil, classifyRPCError(err, "failed to get client")
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}

	logs, err := client.FilterLogs(ctx, query)
	b.recordRPC("eth_getLogs", err)
	if err != nil {
		return nil, classifyRPCError(err, "failed to filter logs")
	}

	refs := make([]models.LogRef, 0, len(logs))
	for _, lg := range logs {
		refs = append(refs, models.LogRef{TxHash: lg.TxHash, BlockNumber: lg.BlockNumber})
	}
	return refs, nil
}

// TransactionByHash returns a single transaction with its sender recovered
// and, when mined, its block number and timestamp filled in
func (b *EthBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*models.Transaction, error) {
	client, err := b.manager.GetClient(ctx)
	if err != nil {
		return nil, classifyRPCError(err, "failed to get client")
	}

	tx, isPending, err := client.TransactionByHash(ctx, hash)
	b.recordRPC("eth_getTransactionByHash", err)
	if err != nil {
		return nil, classifyRPCError(err, "failed to get transaction")
	}

	from, err := types.Sender(b.signer, tx)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeRemoteUnavailable, "Failed to recover transaction sender", err.Error())
	}

	rec := &models.Transaction{Hash: tx.Hash(), From: from}
	if to := tx.To(); to != nil {
		rec.To = *to
	}

	if !isPending {
		receipt, err := client.TransactionReceipt(ctx, hash)
		b.recordRPC("eth_getTransactionReceipt", err)
		if err == nil && receipt.BlockNumber != nil {
			rec.BlockNumber = receipt.BlockNumber.Uint64()
			if header, err := client.HeaderByNumber(ctx, receipt.BlockNumber); err == nil {
				rec.Timestamp = time.Unix(int64(header.Time), 0).UTC()
			}
		}
	}

	return rec, nil
}

// toTransaction converts a mined transaction into the abstract record,
// skipping contract creations (no To address).
func (b *EthBackend) toTransaction(tx *types.Transaction, blockNumber uint64, blockTime time.Time) (models.Transaction, bool) {
	to := tx.To()
	if to == nil {
		return models.Transaction{}, false
	}
	from, err := types.Sender(b.signer, tx)
	if err != nil {
		return models.Transaction{}, false
	}
	return models.Transaction{
		Hash:        tx.Hash(),
		From:        from,
		To:          *to,
		Timestamp:   blockTime,
		BlockNumber: blockNumber,
	}, true
}

func (b *EthBackend) recordRPC(method string, err error) {
	if b.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	b.metrics.GetPrometheusMetrics().RPCRequestsTotal.WithLabelValues(method, status).Inc()
}

// classifyRPCError maps transport failures onto the retryable error
// taxonomy. Results are never fabricated on failure; the caller sees a
// typed error and decides whether to retry.
func classifyRPCError(err error, message string) error {
	if errors.Is(err, ethereum.NotFound) {
		return utils.NewAppError(utils.ErrCodeNotFound, message, err.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return utils.NewAppError(utils.ErrCodeRemoteUnavailable, message, err.Error())
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return utils.NewAppError(utils.ErrCodeRateLimited, message, err.Error())
	}
	return utils.NewAppError(utils.ErrCodeRemoteUnavailable, message, err.Error())
}
