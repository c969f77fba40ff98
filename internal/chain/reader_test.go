package chain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

var (
	testUser     = common.HexToAddress("0xabc1234567890123456789012345678901234567")
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	otherUser    = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

// fakeClient serves canned chain data for the reader strategies
type fakeClient struct {
	mu sync.Mutex

	head      uint64
	headErr   error
	blocks    map[uint64]*models.Block
	blockErr  error
	logs      []models.LogRef
	logsErr   error
	txs       map[common.Hash]*models.Transaction
	blockGets []uint64
}

func (c *fakeClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	if c.headErr != nil {
		return 0, c.headErr
	}
	return c.head, nil
}

func (c *fakeClient) BlockByNumber(ctx context.Context, number uint64) (*models.Block, error) {
	c.mu.Lock()
	c.blockGets = append(c.blockGets, number)
	c.mu.Unlock()

	if c.blockErr != nil {
		return nil, c.blockErr
	}
	if b, ok := c.blocks[number]; ok {
		return b, nil
	}
	return &models.Block{Number: number}, nil
}

func (c *fakeClient) FilterLogs(ctx context.Context, addresses []common.Address, fromBlock, toBlock uint64) ([]models.LogRef, error) {
	if c.logsErr != nil {
		return nil, c.logsErr
	}
	return c.logs, nil
}

func (c *fakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*models.Transaction, error) {
	if tx, ok := c.txs[hash]; ok {
		return tx, nil
	}
	return nil, utils.NewAppError(utils.ErrCodeNotFound, "Transaction not found", hash.Hex())
}

func newTestReader(client Client) *Reader {
	utils.InitLogger("error", "text", "stdout", "")

	return NewReader(client,
		&config.VerificationConfig{
			LookbackWindow:  2 * time.Hour,
			ScanChunkSize:   25,
			ScanConcurrency: 2,
		},
		&config.ChainConfig{BlockTime: time.Second},
		nil,
	)
}

func userTx(hash common.Hash, block uint64) *models.Transaction {
	return &models.Transaction{
		Hash:        hash,
		From:        testUser,
		To:          testContract,
		BlockNumber: block,
		Timestamp:   time.Now(),
	}
}

func TestFindTransactionsEmptyContracts(t *testing.T) {
	reader := newTestReader(&fakeClient{})

	_, err := reader.FindTransactions(context.Background(), testUser, nil, time.Now(), Options{})
	if utils.ErrorCode(err) != utils.ErrCodeInvalidInput {
		t.Fatalf("Expected INVALID_INPUT, got %v", err)
	}
	t.Logf("✓ Empty contract set rejected")
}

func TestDirectHashLookup(t *testing.T) {
	hash := common.HexToHash("0x01")
	client := &fakeClient{
		head: 1000,
		txs:  map[common.Hash]*models.Transaction{hash: userTx(hash, 990)},
	}
	reader := newTestReader(client)

	txs, err := reader.FindTransactions(context.Background(), testUser, []common.Address{testContract},
		time.Now().Add(-time.Hour), Options{CandidateHash: &hash})
	if err != nil {
		t.Fatalf("FindTransactions failed: %v", err)
	}
	if len(txs) != 1 || txs[0].Hash != hash {
		t.Fatalf("Expected the candidate transaction, got %v", txs)
	}
	if len(client.blockGets) != 0 {
		t.Error("Direct hash match must short-circuit the scan strategies")
	}
	t.Logf("✓ Candidate hash verified without scanning")
}

func TestDirectHashMismatchFallsThrough(t *testing.T) {
	// The candidate exists but was sent by someone else
	hash := common.HexToHash("0x01")
	foreign := userTx(hash, 990)
	foreign.From = otherUser

	logHash := common.HexToHash("0x02")
	client := &fakeClient{
		head: 1000,
		logs: []models.LogRef{{TxHash: logHash, BlockNumber: 995}},
		txs: map[common.Hash]*models.Transaction{
			hash:    foreign,
			logHash: userTx(logHash, 995),
		},
	}
	reader := newTestReader(client)

	txs, err := reader.FindTransactions(context.Background(), testUser, []common.Address{testContract},
		time.Now().Add(-time.Hour), Options{CandidateHash: &hash})
	if err != nil {
		t.Fatalf("FindTransactions failed: %v", err)
	}
	if len(txs) != 1 || txs[0].Hash != logHash {
		t.Fatalf("Expected the log scan match, got %v", txs)
	}
	t.Logf("✓ Foreign candidate ignored, scan strategies still ran")
}

func TestLogScanFiltersSenderAndWindow(t *testing.T) {
	since := time.Now().Add(-time.Hour)

	mine := userTx(common.HexToHash("0x02"), 995)
	stale := userTx(common.HexToHash("0x03"), 200)
	stale.Timestamp = since.Add(-time.Hour)
	foreign := userTx(common.HexToHash("0x04"), 996)
	foreign.From = otherUser

	client := &fakeClient{
		head: 1000,
		logs: []models.LogRef{
			{TxHash: mine.Hash, BlockNumber: 995},
			{TxHash: mine.Hash, BlockNumber: 995}, // duplicate ref
			{TxHash: stale.Hash, BlockNumber: 200},
			{TxHash: foreign.Hash, BlockNumber: 996},
		},
		txs: map[common.Hash]*models.Transaction{
			mine.Hash:    mine,
			stale.Hash:   stale,
			foreign.Hash: foreign,
		},
	}
	reader := newTestReader(client)

	txs, err := reader.FindTransactions(context.Background(), testUser, []common.Address{testContract}, since, Options{})
	if err != nil {
		t.Fatalf("FindTransactions failed: %v", err)
	}
	if len(txs) != 1 || txs[0].Hash != mine.Hash {
		t.Fatalf("Expected exactly the in-window user transaction, got %v", txs)
	}
	t.Logf("✓ Log scan deduplicates and filters by sender and window")
}

func TestBlockScanFallback(t *testing.T) {
	// Log scan errors; the block scan must still find the match
	match := userTx(common.HexToHash("0x05"), 998)
	client := &fakeClient{
		head:    1000,
		logsErr: utils.NewAppError(utils.ErrCodeRemoteUnavailable, "eth_getLogs disabled"),
		blocks: map[uint64]*models.Block{
			998: {Number: 998, Transactions: []models.Transaction{*match}},
		},
	}
	reader := newTestReader(client)

	txs, err := reader.FindTransactions(context.Background(), testUser, []common.Address{testContract},
		time.Now().Add(-time.Hour), Options{})
	if err != nil {
		t.Fatalf("FindTransactions failed: %v", err)
	}
	if len(txs) != 1 || txs[0].Hash != match.Hash {
		t.Fatalf("Expected the block scan match, got %v", txs)
	}
	t.Logf("✓ Block scan fallback recovered from log scan failure")
}

func TestBlockScanStopsAtFirstMatchingChunk(t *testing.T) {
	// Match near the head; older chunks must not be fetched
	match := userTx(common.HexToHash("0x06"), 999)
	client := &fakeClient{
		head: 1000,
		blocks: map[uint64]*models.Block{
			999: {Number: 999, Transactions: []models.Transaction{*match}},
		},
	}
	reader := newTestReader(client)

	txs, err := reader.FindTransactions(context.Background(), testUser, []common.Address{testContract},
		time.Now().Add(-time.Hour), Options{})
	if err != nil {
		t.Fatalf("FindTransactions failed: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("Expected one match, got %d", len(txs))
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	for _, n := range client.blockGets {
		if n < 976 {
			t.Errorf("Fetched block %d from an older chunk after a match", n)
		}
	}
	t.Logf("✓ Scan stopped after the first matching chunk (%d blocks fetched)", len(client.blockGets))
}

func TestAllStrategiesFailing(t *testing.T) {
	client := &fakeClient{
		head:     1000,
		logsErr:  utils.NewAppError(utils.ErrCodeRemoteUnavailable, "eth_getLogs disabled"),
		blockErr: utils.NewAppError(utils.ErrCodeRateLimited, "429 too many requests"),
	}
	reader := newTestReader(client)

	_, err := reader.FindTransactions(context.Background(), testUser, []common.Address{testContract},
		time.Now().Add(-time.Hour), Options{})
	if err == nil {
		t.Fatal("Expected an error when every strategy fails")
	}
	if !utils.IsRetryable(err) {
		t.Errorf("Expected a retryable error, got %v", err)
	}
	t.Logf("✓ Total strategy failure surfaces an error instead of a false negative")
}

func TestNoActivityIsEmptyNotError(t *testing.T) {
	client := &fakeClient{head: 1000}
	reader := newTestReader(client)

	txs, err := reader.FindTransactions(context.Background(), testUser, []common.Address{testContract},
		time.Now().Add(-time.Hour), Options{})
	if err != nil {
		t.Fatalf("Expected clean empty result, got %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("Expected zero matches, got %d", len(txs))
	}
	t.Logf("✓ Quiet window reported as zero matches")
}
