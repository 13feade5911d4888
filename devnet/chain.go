package devnet

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"zvote/ledger"
)

// Transaction is an executed contract call as recorded in a block.
type Transaction struct {
	Hash       common.Hash    `json:"hash"`
	From       common.Address `json:"from"`
	Nonce      uint64         `json:"nonce"`
	Method     string         `json:"method"`
	ProposalID uint64         `json:"proposalId,omitempty"`
	Status     uint64         `json:"status"`
	Error      string         `json:"error,omitempty"`
}

type Block struct {
	Number       uint64        `json:"number"`
	Timestamp    int64         `json:"timestamp"`
	PrevHash     common.Hash   `json:"prevHash"`
	Hash         common.Hash   `json:"hash"`
	Transactions []Transaction `json:"transactions"`
}

// Helper struct for hash calculation
type blockForHash struct {
	Number       uint64        `json:"number"`
	Timestamp    int64         `json:"timestamp"`
	PrevHash     common.Hash   `json:"prevHash"`
	Transactions []Transaction `json:"transactions"`
}

// Chain is a hash-linked log of executed transactions. Every transaction is
// sealed into its own block as soon as it executes.
type Chain struct {
	mu       sync.RWMutex
	blocks   []Block
	receipts map[common.Hash]*ledger.Receipt
	nonces   map[common.Address]uint64
	now      func() time.Time
}

func NewChain(now func() time.Time) *Chain {
	if now == nil {
		now = time.Now
	}
	genesis := Block{
		Number:       0,
		Timestamp:    now().Unix(),
		Transactions: []Transaction{},
	}
	genesis.Hash = calculateHash(genesis)
	return &Chain{
		blocks:   []Block{genesis},
		receipts: make(map[common.Hash]*ledger.Receipt),
		nonces:   make(map[common.Address]uint64),
		now:      now,
	}
}

func calculateHash(block Block) common.Hash {
	data, err := json.Marshal(blockForHash{
		Number:       block.Number,
		Timestamp:    block.Timestamp,
		PrevHash:     block.PrevHash,
		Transactions: block.Transactions,
	})
	if err != nil {
		// Only plain values are hashed, so marshalling cannot fail.
		panic(fmt.Sprintf("failed to marshal block for hashing: %v", err))
	}
	return crypto.Keccak256Hash(data)
}

// Commit assigns the sender's next nonce and a hash to tx, seals it into a
// new block and returns its receipt.
func (c *Chain) Commit(tx Transaction) *ledger.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx.Nonce = c.nonces[tx.From]
	c.nonces[tx.From]++
	tx.Hash = crypto.Keccak256Hash(
		tx.From.Bytes(),
		new(big.Int).SetUint64(tx.Nonce).Bytes(),
		[]byte(tx.Method),
		new(big.Int).SetUint64(tx.ProposalID).Bytes(),
	)

	last := c.blocks[len(c.blocks)-1]
	block := Block{
		Number:       last.Number + 1,
		Timestamp:    c.now().Unix(),
		PrevHash:     last.Hash,
		Transactions: []Transaction{tx},
	}
	block.Hash = calculateHash(block)
	c.blocks = append(c.blocks, block)

	receipt := &ledger.Receipt{
		TxHash:      tx.Hash,
		BlockNumber: block.Number,
		Status:      tx.Status,
	}
	c.receipts[tx.Hash] = receipt
	return receipt
}

func (c *Chain) Receipt(hash common.Hash) (*ledger.Receipt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1].Number
}

func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Validate checks hash linking and every block hash.
func (c *Chain) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := 1; i < len(c.blocks); i++ {
		current := c.blocks[i]
		previous := c.blocks[i-1]
		if current.PrevHash != previous.Hash {
			return fmt.Errorf("hash link broken at block %d", i)
		}
		if calculated := calculateHash(current); calculated != current.Hash {
			return fmt.Errorf("hash mismatch at block %d: expected %s, calculated %s", i, current.Hash.Hex(), calculated.Hex())
		}
	}
	return nil
}
