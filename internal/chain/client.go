package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/questforge/questforge/internal/models"
)

// Client is the minimal chain-data capability set the activity reader is
// written against. Any backend able to answer these four questions (RPC
// node, indexer, explorer API) can serve as the transport.
type Client interface {
	// HeadBlockNumber returns the current chain head number
	HeadBlockNumber(ctx context.Context) (uint64, error)

	// BlockByNumber returns a block with its full transaction list
	BlockByNumber(ctx context.Context, number uint64) (*models.Block, error)

	// FilterLogs returns references to transactions that emitted logs from
	// any of the given addresses in [fromBlock, toBlock]
	FilterLogs(ctx context.Context, addresses []common.Address, fromBlock, toBlock uint64) ([]models.LogRef, error)

	// TransactionByHash returns a single transaction, or a NOT_FOUND
	// application error when the chain does not know the hash
	TransactionByHash(ctx context.Context, hash common.Hash) (*models.Transaction, error)
}
