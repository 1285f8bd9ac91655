package portal

import "encoding/json"

// FieldSelection is a per-entity-kind map of field name to inclusion,
// matching spec.md §3 "Field selection is a map per entity kind".
type FieldSelection map[string]bool

// BlockFields returns either the minimal (number, hash, parentHash,
// timestamp) or the all-fields selection for a Portal block header.
func BlockFields(allFields bool) FieldSelection {
	if !allFields {
		return FieldSelection{"number": true, "hash": true, "parentHash": true, "timestamp": true}
	}
	return FieldSelection{
		"number": true, "hash": true, "parentHash": true, "timestamp": true,
		"miner": true, "gasUsed": true, "gasLimit": true, "nonce": true,
		"difficulty": true, "totalDifficulty": true, "size": true,
		"stateRoot": true, "transactionsRoot": true, "receiptsRoot": true,
		"logsBloom": true, "extraData": true, "mixHash": true, "sha3Uncles": true,
		"baseFeePerGas": true, "blobGasUsed": true, "excessBlobGas": true,
		"withdrawalsRoot": true, "parentBeaconBlockRoot": true,
	}
}

// TransactionFields returns either the hash-only or all-fields transaction
// selection.
func TransactionFields(allFields bool) FieldSelection {
	if !allFields {
		return FieldSelection{"hash": true}
	}
	return FieldSelection{
		"blockHash": true, "blockNumber": true, "transactionIndex": true,
		"hash": true, "from": true, "to": true, "value": true, "input": true,
		"nonce": true, "gas": true, "type": true, "gasPrice": true,
		"maxFeePerGas": true, "maxPriorityFeePerGas": true, "chainId": true,
		"yParity": true, "accessList": true, "authorizationList": true,
		"maxFeePerBlobGas": true, "blobVersionedHashes": true,
		"v": true, "r": true, "s": true,
	}
}

// LogFields returns the all-fields log selection.
func LogFields() FieldSelection {
	return FieldSelection{
		"blockHash": true, "blockNumber": true, "transactionIndex": true,
		"transactionHash": true, "logIndex": true, "address": true,
		"data": true, "topics": true,
	}
}

// TraceFields returns the all-fields trace selection.
func TraceFields() FieldSelection {
	return FieldSelection{
		"callFrom": true, "callTo": true, "callValue": true, "callGas": true,
		"callInput": true, "callType": true, "init": true, "address": true,
		"balance": true, "refundAddress": true, "author": true, "rewardType": true,
		"callResultGasUsed": true, "callResultOutput": true,
		"createResultGasUsed": true, "createResultCode": true, "createResultAddress": true,
		"error": true, "revertReason": true, "transactionHash": true, "transactionPosition": true,
		"type": true, "subtraces": true, "traceAddress": true,
	}
}

// LogFilter mirrors spec.md §3's log filter shape as it travels to Portal.
type LogFilter struct {
	Address []string   `json:"address,omitempty"`
	Topics  [][]string `json:"topics,omitempty"`
}

// RangeRequest is the body POSTed to Portal's /stream and /finalized-stream
// endpoints (spec.md §3 "Portal range request").
type RangeRequest struct {
	Type             string                    `json:"type"`
	FromBlock        uint64                    `json:"fromBlock"`
	ToBlock          *uint64                   `json:"toBlock,omitempty"`
	IncludeAllBlocks bool                      `json:"includeAllBlocks,omitempty"`
	Fields           map[string]FieldSelection `json:"fields"`
	Logs             []LogFilter               `json:"logs,omitempty"`
	Transactions     []map[string]any          `json:"transactions,omitempty"`
	Traces           []map[string]any          `json:"traces,omitempty"`
	StateDiffs       []map[string]any          `json:"stateDiffs,omitempty"`
}

// Header is a Portal block header record (spec.md §3).
type Header struct {
	Number                json.Number `json:"number"`
	Hash                  string      `json:"hash"`
	ParentHash            string      `json:"parentHash"`
	Timestamp             json.Number `json:"timestamp"`
	Miner                 string      `json:"miner,omitempty"`
	GasUsed               json.Number `json:"gasUsed,omitempty"`
	GasLimit              json.Number `json:"gasLimit,omitempty"`
	Nonce                 string      `json:"nonce,omitempty"`
	Difficulty            json.Number `json:"difficulty,omitempty"`
	TotalDifficulty       json.Number `json:"totalDifficulty,omitempty"`
	Size                  json.Number `json:"size,omitempty"`
	StateRoot             string      `json:"stateRoot,omitempty"`
	TransactionsRoot      string      `json:"transactionsRoot,omitempty"`
	ReceiptsRoot          string      `json:"receiptsRoot,omitempty"`
	LogsBloom             string      `json:"logsBloom,omitempty"`
	ExtraData             string      `json:"extraData,omitempty"`
	MixHash               string      `json:"mixHash,omitempty"`
	Sha3Uncles            string      `json:"sha3Uncles,omitempty"`
	BaseFeePerGas         *json.Number `json:"baseFeePerGas,omitempty"`
	BlobGasUsed           *json.Number `json:"blobGasUsed,omitempty"`
	ExcessBlobGas         *json.Number `json:"excessBlobGas,omitempty"`
	WithdrawalsRoot       *string     `json:"withdrawalsRoot,omitempty"`
	ParentBeaconBlockRoot *string     `json:"parentBeaconBlockRoot,omitempty"`
}

// Transaction is a Portal transaction record.
type Transaction struct {
	BlockHash            string           `json:"blockHash,omitempty"`
	BlockNumber          json.Number      `json:"blockNumber,omitempty"`
	TransactionIndex     json.Number      `json:"transactionIndex,omitempty"`
	Hash                 string           `json:"hash"`
	From                 string           `json:"from,omitempty"`
	To                   *string          `json:"to,omitempty"`
	Value                json.Number      `json:"value,omitempty"`
	Input                string           `json:"input,omitempty"`
	Nonce                json.Number      `json:"nonce,omitempty"`
	Gas                  json.Number      `json:"gas,omitempty"`
	Type                 json.Number      `json:"type,omitempty"`
	GasPrice             *json.Number     `json:"gasPrice,omitempty"`
	MaxFeePerGas         *json.Number     `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *json.Number     `json:"maxPriorityFeePerGas,omitempty"`
	ChainId              *json.Number     `json:"chainId,omitempty"`
	YParity              *json.Number     `json:"yParity,omitempty"`
	AccessList           json.RawMessage  `json:"accessList,omitempty"`
	AuthorizationList    json.RawMessage  `json:"authorizationList,omitempty"`
	MaxFeePerBlobGas     *json.Number     `json:"maxFeePerBlobGas,omitempty"`
	BlobVersionedHashes  []string         `json:"blobVersionedHashes,omitempty"`
	V                    json.RawMessage  `json:"v,omitempty"`
	R                    json.RawMessage  `json:"r,omitempty"`
	S                    json.RawMessage  `json:"s,omitempty"`
}

// Log is a Portal log record.
type Log struct {
	BlockHash        string      `json:"blockHash"`
	BlockNumber      json.Number `json:"blockNumber"`
	TransactionIndex json.Number `json:"transactionIndex"`
	TransactionHash  string      `json:"transactionHash"`
	LogIndex         json.Number `json:"logIndex"`
	Address          string      `json:"address"`
	Data             string      `json:"data"`
	Topics           []string    `json:"topics"`
}

// Trace is a Portal trace record using the flattened `call*`/`create*`
// field naming spec.md §4.5 describes.
type Trace struct {
	Type                string      `json:"type,omitempty"`
	CallFrom            *string     `json:"callFrom,omitempty"`
	CallTo              *string     `json:"callTo,omitempty"`
	CallValue           *string     `json:"callValue,omitempty"`
	CallGas             *string     `json:"callGas,omitempty"`
	CallInput           *string     `json:"callInput,omitempty"`
	CallType            *string     `json:"callType,omitempty"`
	Init                *string     `json:"init,omitempty"`
	Address             *string     `json:"address,omitempty"`
	Balance             *string     `json:"balance,omitempty"`
	RefundAddress       *string     `json:"refundAddress,omitempty"`
	Author              *string     `json:"author,omitempty"`
	RewardType          *string     `json:"rewardType,omitempty"`
	CallResultGasUsed   *string     `json:"callResultGasUsed,omitempty"`
	CallResultOutput    *string     `json:"callResultOutput,omitempty"`
	CreateResultGasUsed *string     `json:"createResultGasUsed,omitempty"`
	CreateResultCode    *string     `json:"createResultCode,omitempty"`
	CreateResultAddress *string     `json:"createResultAddress,omitempty"`
	Error               *string     `json:"error,omitempty"`
	RevertReason        *string     `json:"revertReason,omitempty"`
	TransactionHash      *string    `json:"transactionHash,omitempty"`
	TransactionPosition  *json.Number `json:"transactionPosition,omitempty"`
	Subtraces           json.Number `json:"subtraces,omitempty"`
	TraceAddress        []int       `json:"traceAddress,omitempty"`
}

// Withdrawal is a Portal withdrawal record (EIP-4895).
type Withdrawal struct {
	Index          json.Number `json:"index"`
	ValidatorIndex json.Number `json:"validatorIndex"`
	Address        string      `json:"address"`
	Amount         json.Number `json:"amount"`
}

// BlockRecord is one NDJSON line from a Portal stream.
type BlockRecord struct {
	Header       Header        `json:"header"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Logs         []Log         `json:"logs,omitempty"`
	Traces       []Trace       `json:"traces,omitempty"`
	Withdrawals  []Withdrawal  `json:"withdrawals,omitempty"`
}

// Head is the response shape of /head and /finalized-head.
type Head struct {
	Number             uint64 `json:"number"`
	Hash               string `json:"hash"`
	FinalizedAvailable bool   `json:"-"`
}

// Metadata is the response shape of /metadata.
type Metadata struct {
	Dataset    string   `json:"dataset"`
	Aliases    []string `json:"aliases,omitempty"`
	RealTime   *bool    `json:"real_time,omitempty"`
	StartBlock *uint64  `json:"start_block,omitempty"`
}
