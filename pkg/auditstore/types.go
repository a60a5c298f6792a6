// Package auditstore implements the append-only, queryable audit trail
// of receipts and indexed event logs: the persisted receipt/event_logs
// schema behind Postgres via github.com/lib/pq.
package auditstore

import (
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Status is the EVM-style execution outcome stored per receipt.
type Status int16

const (
	StatusFailure Status = 0
	StatusSuccess Status = 1
)

// TxReceipt is one row of the `receipts` table.
type TxReceipt struct {
	TxHash          string
	BlockHash       string
	BlockHeight     uint64
	TxIndex         uint32
	FromAddress     string
	ToAddress       string
	ContractAddress string
	Status          Status
	GasLimit        uint64
	GasUsed         uint64
	GasPrice        uint64
	GasFee          uint64
	Timestamp       time.Time
	ReceiptData     []byte
	LogsBloom       types.Bloom // 256-byte (2048-bit) bloom filter, go-ethereum's type
}

// EventLog is one row of the `event_logs` table.
type EventLog struct {
	TxHash   string
	Address  string
	Topics   []string
	Data     []byte
	LogIndex uint32
}

// Filter narrows a Query to a subset of stored receipts:
// block-height range, addresses, status, timestamp range, gas range,
// event address, event topics.
type Filter struct {
	MinHeight      *uint64
	MaxHeight      *uint64
	FromAddress    string
	ToAddress      string
	Status         *Status
	MinTimestamp   *time.Time
	MaxTimestamp   *time.Time
	MinGasUsed     *uint64
	MaxGasUsed     *uint64
	EventAddress   string
	EventTopics    []string
}

// Page bounds a Filter's result set.
type Page struct {
	Limit     int
	Offset    int
	Ascending bool
}

// Aggregate is the result of an aggregate query: count, sum, and average
// of gas_used across the filtered set.
type Aggregate struct {
	Count    int64
	GasSum   uint64
	GasAvg   float64
}

// BuildBloom ORs every topic/address byte string into a fresh 2048-bit
// filter, the same construction a real EVM client uses to build
// logs_bloom.
func BuildBloom(addresses []string, topics []string) types.Bloom {
	var bloom types.Bloom
	for _, a := range addresses {
		bloom.Add([]byte(a))
	}
	for _, t := range topics {
		bloom.Add([]byte(t))
	}
	return bloom
}
