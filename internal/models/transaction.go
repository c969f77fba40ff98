package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Transaction is the abstracted chain record returned by the activity
// reader. It is consumed transiently and never persisted.
type Transaction struct {
	Hash        common.Hash    `json:"hash"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Timestamp   time.Time      `json:"timestamp"`
	BlockNumber uint64         `json:"block_number"`
}

// Block is a minimal block view used by the block-range scan strategy
type Block struct {
	Number       uint64        `json:"number"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
}

// LogRef references the transaction that emitted a matched contract log
type LogRef struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
}
