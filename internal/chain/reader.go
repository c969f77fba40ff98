package chain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

// Reader strategy names, in priority order
const (
	strategyDirectHash = "direct_hash"
	strategyLogScan    = "log_scan"
	strategyBlockScan  = "block_scan"
)

// Options tunes a single FindTransactions call
type Options struct {
	// CandidateHash enables the direct hash lookup strategy. Only used
	// when a caller supplies a specific transaction to verify.
	CandidateHash *common.Hash
}

// Reader answers "did this address send anything to this contract set
// recently" against an unreliable chain-data backend. Strategies are
// evaluated in fixed priority order and the first one yielding a match
// wins; zero matches across all strategies is a valid empty result, not
// an error.
type Reader struct {
	client    Client
	cfg       *config.VerificationConfig
	blockTime time.Duration
	limiter   *rate.Limiter
	logger    *logrus.Entry
	metrics   *metrics.Manager
}

// NewReader creates a chain activity reader
func NewReader(client Client, verifyCfg *config.VerificationConfig, chainCfg *config.ChainConfig, metricsManager *metrics.Manager) *Reader {
	limit := rate.Limit(verifyCfg.ScanRateLimit)
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Reader{
		client:    client,
		cfg:       verifyCfg,
		blockTime: chainCfg.BlockTime,
		limiter:   rate.NewLimiter(limit, verifyCfg.ScanConcurrency),
		logger:    utils.ComponentLogger("chain_reader"),
		metrics:   metricsManager,
	}
}

// FindTransactions returns transactions sent by userAddress to any of the
// given contracts since the given time.
func (r *Reader) FindTransactions(ctx context.Context, userAddress common.Address, contracts []common.Address, since time.Time, opts Options) ([]models.Transaction, error) {
	if len(contracts) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeInvalidInput, "Empty contract set")
	}

	contractSet := make(map[common.Address]struct{}, len(contracts))
	for _, c := range contracts {
		contractSet[c] = struct{}{}
	}

	if opts.CandidateHash != nil {
		txs, err := r.directHashLookup(ctx, userAddress, contractSet, *opts.CandidateHash)
		if err != nil {
			return nil, err
		}
		if len(txs) > 0 {
			return txs, nil
		}
	}

	head, err := r.client.HeadBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	fromBlock := r.windowStart(head)

	txs, logErr := r.logScan(ctx, userAddress, contracts, contractSet, fromBlock, head, since)
	if logErr == nil && len(txs) > 0 {
		return txs, nil
	}
	if logErr != nil {
		r.logger.WithError(logErr).Debug("Log scan failed, falling back to block scan")
	}

	txs, scanErr := r.blockScan(ctx, userAddress, contractSet, fromBlock, head, since)
	if scanErr != nil {
		// Surface the log scan failure if the fallback also failed
		if logErr != nil {
			return nil, logErr
		}
		return nil, scanErr
	}
	if len(txs) == 0 && logErr != nil {
		return nil, logErr
	}
	return txs, nil
}

// windowStart computes the scan window lower bound from the head and the
// configured lookback, expressed in blocks via the nominal block time.
func (r *Reader) windowStart(head uint64) uint64 {
	blocks := uint64(r.cfg.LookbackWindow / r.blockTime)
	if blocks >= head {
		return 0
	}
	return head - blocks
}

// directHashLookup verifies a single caller-supplied transaction hash.
// An unknown hash yields zero matches so the scan strategies still run.
func (r *Reader) directHashLookup(ctx context.Context, user common.Address, contracts map[common.Address]struct{}, hash common.Hash) ([]models.Transaction, error) {
	start := time.Now()

	tx, err := r.client.TransactionByHash(ctx, hash)
	if err != nil {
		if utils.IsNotFound(err) {
			r.recordScan(strategyDirectHash, "miss", start)
			return nil, nil
		}
		r.recordScan(strategyDirectHash, "error", start)
		return nil, err
	}

	if tx.From != user {
		r.recordScan(strategyDirectHash, "miss", start)
		return nil, nil
	}
	if _, ok := contracts[tx.To]; !ok {
		r.recordScan(strategyDirectHash, "miss", start)
		return nil, nil
	}

	r.recordScan(strategyDirectHash, "match", start)
	return []models.Transaction{*tx}, nil
}

// logScan queries event logs emitted by the contract set in the window,
// then resolves each log's transaction and keeps those sent by the user.
func (r *Reader) logScan(ctx context.Context, user common.Address, contracts []common.Address, contractSet map[common.Address]struct{}, fromBlock, toBlock uint64, since time.Time) ([]models.Transaction, error) {
	start := time.Now()

	refs, err := r.client.FilterLogs(ctx, contracts, fromBlock, toBlock)
	if err != nil {
		r.recordScan(strategyLogScan, "error", start)
		return nil, err
	}

	seen := make(map[common.Hash]struct{}, len(refs))
	var matches []models.Transaction
	for _, ref := range refs {
		if _, dup := seen[ref.TxHash]; dup {
			continue
		}
		seen[ref.TxHash] = struct{}{}

		if err := r.limiter.Wait(ctx); err != nil {
			r.recordScan(strategyLogScan, "error", start)
			return nil, utils.NewAppError(utils.ErrCodeRemoteUnavailable, "Scan interrupted", err.Error())
		}

		tx, err := r.client.TransactionByHash(ctx, ref.TxHash)
		if err != nil {
			if utils.IsNotFound(err) {
				continue
			}
			r.recordScan(strategyLogScan, "error", start)
			return nil, err
		}

		if tx.From != user {
			continue
		}
		if !tx.Timestamp.IsZero() && tx.Timestamp.Before(since) {
			continue
		}
		matches = append(matches, *tx)
	}

	if len(matches) > 0 {
		r.recordScan(strategyLogScan, "match", start)
	} else {
		r.recordScan(strategyLogScan, "miss", start)
	}
	return matches, nil
}

// blockScan iterates the window newest-first in fixed-size chunks,
// fetching blocks with bounded parallelism, and stops at the first chunk
// containing a match.
func (r *Reader) blockScan(ctx context.Context, user common.Address, contracts map[common.Address]struct{}, fromBlock, toBlock uint64, since time.Time) ([]models.Transaction, error) {
	start := time.Now()

	chunk := r.cfg.ScanChunkSize
	var firstErr error

	for high := toBlock; high >= fromBlock; {
		low := fromBlock
		if high >= fromBlock+chunk-1 {
			low = high - chunk + 1
		}

		matches, err := r.scanChunk(ctx, user, contracts, low, high, since)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if len(matches) > 0 {
			// Newest match first for the caller
			sort.Slice(matches, func(i, j int) bool {
				return matches[i].BlockNumber > matches[j].BlockNumber
			})
			r.recordScan(strategyBlockScan, "match", start)
			return matches, nil
		}

		if low == fromBlock {
			break
		}
		high = low - 1
	}

	if firstErr != nil {
		r.recordScan(strategyBlockScan, "error", start)
		return nil, firstErr
	}
	r.recordScan(strategyBlockScan, "miss", start)
	return nil, nil
}

// scanChunk fetches one chunk of blocks with bounded concurrency and
// collects matching transactions.
func (r *Reader) scanChunk(ctx context.Context, user common.Address, contracts map[common.Address]struct{}, low, high uint64, since time.Time) ([]models.Transaction, error) {
	sem := make(chan struct{}, r.cfg.ScanConcurrency)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		matches  []models.Transaction
		firstErr error
	)

	for number := low; number <= high; number++ {
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(n uint64) {
			defer wg.Done()
			defer func() { <-sem }()

			block, err := r.client.BlockByNumber(ctx, n)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			for _, tx := range block.Transactions {
				if tx.From != user {
					continue
				}
				if _, ok := contracts[tx.To]; !ok {
					continue
				}
				if !tx.Timestamp.IsZero() && tx.Timestamp.Before(since) {
					continue
				}
				mu.Lock()
				matches = append(matches, tx)
				mu.Unlock()
			}
		}(number)
	}

	wg.Wait()

	if len(matches) > 0 {
		return matches, nil
	}
	return nil, firstErr
}

func (r *Reader) recordScan(strategy, outcome string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.GetPrometheusMetrics().RecordReaderScan(strategy, outcome, time.Since(start))
}
