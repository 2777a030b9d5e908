// Package fakenode implements rpcnode.NodeClient entirely in memory, for
// use by every C6/C7 test — the teacher's own test style never mocks an
// HTTP server, it calls plain Go functions directly (internal/zerocash's
// zerocash_test.go), so this fake plays that same role for the one
// external collaborator the core can't avoid over the wire.
package fakenode

import (
	"context"
	"sync"

	"github.com/shieldedpool/client/internal/rpcnode"
)

// Node is an in-memory, appendable event log plus a simulated blocked-key
// SMT responder.
type Node struct {
	mu            sync.Mutex
	ledger        uint64
	poolEvents    []rpcnode.Event
	aspEvents     []rpcnode.Event
	blockedKeys   map[string]bool
	smtRoot       []byte
	submitted     []rpcnode.SubmitRequest
}

func New() *Node {
	return &Node{blockedKeys: make(map[string]bool)}
}

// AppendPoolEvent appends to the pool stream and advances the ledger.
func (n *Node) AppendPoolEvent(ev rpcnode.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ledger++
	ev.Ledger = n.ledger
	n.poolEvents = append(n.poolEvents, ev)
}

// AppendASPEvent appends to the approved-set stream and advances the ledger.
func (n *Node) AppendASPEvent(ev rpcnode.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ledger++
	ev.Ledger = n.ledger
	n.aspEvents = append(n.aspEvents, ev)
}

// SetSMTRoot sets the root the SimulateFindKey response reports.
func (n *Node) SetSMTRoot(root []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.smtRoot = root
}

// BlockKey marks key as present in the blocked set (SimulateFindKey will
// report Found=true for it).
func (n *Node) BlockKey(keyHex string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blockedKeys[keyHex] = true
}

func (n *Node) LatestLedger(_ context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger, nil
}

func (n *Node) GetEvents(_ context.Context, req rpcnode.PageRequest) (rpcnode.Page, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	src := n.poolEvents
	if req.Stream == "asp" {
		src = n.aspEvents
	}
	out := make([]rpcnode.Event, 0)
	for _, ev := range src {
		if ev.Ledger >= req.StartLedger {
			out = append(out, ev)
		}
	}
	return rpcnode.Page{Events: out, HasMore: false}, nil
}

func (n *Node) GetLedgerEntry(_ context.Context, key string) ([]byte, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if key == "Root" {
		return n.smtRoot, n.smtRoot != nil, nil
	}
	return nil, false, nil
}

func (n *Node) SimulateFindKey(_ context.Context, key []byte) (rpcnode.FindKeyResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	hexKey := string(key)
	if n.blockedKeys[hexKey] {
		return rpcnode.FindKeyResult{Found: true, Root: n.smtRoot}, nil
	}
	siblings := make([][]byte, 32)
	for i := range siblings {
		siblings[i] = make([]byte, 32)
	}
	return rpcnode.FindKeyResult{
		Found:         false,
		Siblings:      siblings,
		NotFoundKey:   key,
		NotFoundValue: make([]byte, 32),
		IsOld0:        true,
		Root:          n.smtRoot,
	}, nil
}

func (n *Node) SubmitTransaction(_ context.Context, req rpcnode.SubmitRequest) (rpcnode.SubmitResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, req)
	n.ledger++
	return rpcnode.SubmitResult{Successful: true, Ledger: n.ledger, TxHash: "fake-tx"}, nil
}

// Submitted returns every SubmitTransaction call observed, for assertions.
func (n *Node) Submitted() []rpcnode.SubmitRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]rpcnode.SubmitRequest, len(n.submitted))
	copy(out, n.submitted)
	return out
}
