// Package abci is the block interface between the sequencer and the exchange
// application.
package abci

import "encoding/hex"

// Hash is the application state hash returned after every block.
type Hash [32]byte

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// TxResult is the outcome of one action. Code 0 means success.
type TxResult struct {
	Code uint32
	Kind string
	Log  string
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   Hash
}

type RequestCommit struct{ Height int64 }
type ResponseCommit struct{ RetainHeight int64 }

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
	Commit(RequestCommit) (ResponseCommit, error)
}
