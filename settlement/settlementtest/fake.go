// Package settlementtest provides an in-memory settlement network for tests.
package settlementtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/homechain/escrowhub/common"
	"github.com/homechain/escrowhub/settlement"
)

type fault struct {
	err        error
	afterApply bool
}

type escrow struct {
	status      settlement.EscrowStatus
	beneficiary string
}

// Network is a scriptable settlement network. Submissions are deduplicated
// by idempotency key like the real gateway does.
type Network struct {
	mu       sync.Mutex
	escrows  map[string]*escrow
	txs      map[string]*settlement.TransactionStatus
	balances map[string]int64
	calls    map[string]int
	faults   map[string][]fault
	seq      int
}

func NewNetwork() *Network {
	return &Network{
		escrows:  map[string]*escrow{},
		txs:      map[string]*settlement.TransactionStatus{},
		balances: map[string]int64{},
		calls:    map[string]int{},
		faults:   map[string][]fault{},
	}
}

var _ settlement.Client = (*Network)(nil)

// FailNext makes the next call of op return err without touching network state.
func (n *Network) FailNext(op string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults[op] = append(n.faults[op], fault{err: err})
}

// ApplyThenFail makes the next call of op take effect on the network but
// return err to the caller, as when a response is lost after a timeout.
func (n *Network) ApplyThenFail(op string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults[op] = append(n.faults[op], fault{err: err, afterApply: true})
}

// Calls returns how many times op was invoked.
func (n *Network) Calls(op string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[op]
}

// SetEscrowStatus changes an escrow directly on the network, as an
// arbiter would.
func (n *Network) SetEscrowStatus(escrowID, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.escrows[escrowID]; ok {
		e.status.Status = status
	}
}

func (n *Network) SetBalance(address string, amount int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[address] = amount
}

// HasEscrow reports whether the network knows escrowID.
func (n *Network) HasEscrow(escrowID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.escrows[escrowID]
	return ok
}

// begin counts the call and pops a scripted fault, if any. Must hold mu.
func (n *Network) begin(op string) (fault, bool) {
	n.calls[op]++
	queue := n.faults[op]
	if len(queue) == 0 {
		return fault{}, false
	}
	n.faults[op] = queue[1:]
	return queue[0], true
}

func (n *Network) nextTxRef() string {
	n.seq++
	return fmt.Sprintf("tx%06d", n.seq)
}

// record stores a settled submission under both its key and tx ref. Must hold mu.
func (n *Network) record(key string) *settlement.TransactionStatus {
	tx := &settlement.TransactionStatus{Reference: key, TxRef: n.nextTxRef(), Status: settlement.TxStatusSuccess}
	if key != "" {
		n.txs[key] = tx
	}
	n.txs[tx.TxRef] = tx
	return tx
}

func (n *Network) CreateEscrow(ctx context.Context, req *settlement.CreateEscrowRequest) (*settlement.CreateEscrowResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	f, faulty := n.begin(settlement.OpCreateEscrow)
	if faulty && !f.afterApply {
		return nil, f.err
	}
	if tx, ok := n.txs[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return &settlement.CreateEscrowResponse{EscrowID: req.EscrowID, TxRef: tx.TxRef}, nil
	}
	if _, exists := n.escrows[req.EscrowID]; exists {
		return nil, fmt.Errorf("escrow %s already exists: %w", req.EscrowID, common.ErrRemoteRejected)
	}
	n.escrows[req.EscrowID] = &escrow{
		status:      settlement.EscrowStatus{EscrowID: req.EscrowID, Status: settlement.EscrowStatusPending, Amount: req.Amount},
		beneficiary: req.BeneficiaryAddress,
	}
	tx := n.record(req.IdempotencyKey)
	if faulty {
		return nil, f.err
	}
	return &settlement.CreateEscrowResponse{EscrowID: req.EscrowID, TxRef: tx.TxRef}, nil
}

func (n *Network) FundEscrow(ctx context.Context, req *settlement.FundEscrowRequest) (*settlement.TxResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	f, faulty := n.begin(settlement.OpFundEscrow)
	if faulty && !f.afterApply {
		return nil, f.err
	}
	if tx, ok := n.txs[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return &settlement.TxResponse{TxRef: tx.TxRef}, nil
	}
	e, ok := n.escrows[req.EscrowID]
	if !ok {
		return nil, fmt.Errorf("escrow %s: %w", req.EscrowID, common.ErrRemoteRejected)
	}
	if e.status.Status != settlement.EscrowStatusPending {
		return nil, fmt.Errorf("escrow %s is %s: %w", req.EscrowID, e.status.Status, common.ErrRemoteRejected)
	}
	tx := n.record(req.IdempotencyKey)
	e.status.Status = settlement.EscrowStatusFunded
	e.status.FundTxRef = tx.TxRef
	if faulty {
		return nil, f.err
	}
	return &settlement.TxResponse{TxRef: tx.TxRef}, nil
}

func (n *Network) ReleasePayment(ctx context.Context, req *settlement.ReleasePaymentRequest) (*settlement.TxResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	f, faulty := n.begin(settlement.OpReleasePayment)
	if faulty && !f.afterApply {
		return nil, f.err
	}
	if tx, ok := n.txs[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return &settlement.TxResponse{TxRef: tx.TxRef}, nil
	}
	e, ok := n.escrows[req.EscrowID]
	if !ok {
		return nil, fmt.Errorf("escrow %s: %w", req.EscrowID, common.ErrRemoteRejected)
	}
	if e.status.Status != settlement.EscrowStatusFunded {
		return nil, fmt.Errorf("escrow %s is %s: %w", req.EscrowID, e.status.Status, common.ErrRemoteRejected)
	}
	tx := n.record(req.IdempotencyKey)
	e.status.Status = settlement.EscrowStatusCompleted
	e.status.RequesterApproved = true
	e.status.ProviderApproved = true
	e.status.ReleaseTxRef = tx.TxRef
	n.balances[e.beneficiary] += e.status.Amount
	if faulty {
		return nil, f.err
	}
	return &settlement.TxResponse{TxRef: tx.TxRef}, nil
}

func (n *Network) SendPayment(ctx context.Context, req *settlement.SendPaymentRequest) (*settlement.TxResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	f, faulty := n.begin(settlement.OpSendPayment)
	if faulty && !f.afterApply {
		return nil, f.err
	}
	if tx, ok := n.txs[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return &settlement.TxResponse{TxRef: tx.TxRef}, nil
	}
	tx := n.record(req.IdempotencyKey)
	n.balances[req.DestinationAddress] += req.Amount
	if faulty {
		return nil, f.err
	}
	return &settlement.TxResponse{TxRef: tx.TxRef}, nil
}

func (n *Network) GetEscrowStatus(ctx context.Context, escrowID string) (*settlement.EscrowStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if f, faulty := n.begin(settlement.OpGetEscrowStatus); faulty {
		return nil, f.err
	}
	e, ok := n.escrows[escrowID]
	if !ok {
		return nil, fmt.Errorf("escrow %s: %w", escrowID, common.ErrNotFound)
	}
	status := e.status
	return &status, nil
}

func (n *Network) GetAccountBalance(ctx context.Context, address string) (*settlement.AccountBalance, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if f, faulty := n.begin(settlement.OpGetAccountBalance); faulty {
		return nil, f.err
	}
	return &settlement.AccountBalance{Address: address, Amount: n.balances[address]}, nil
}

func (n *Network) GetTransaction(ctx context.Context, reference string) (*settlement.TransactionStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if f, faulty := n.begin(settlement.OpGetTransaction); faulty {
		return nil, f.err
	}
	tx, ok := n.txs[reference]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", reference, common.ErrNotFound)
	}
	status := *tx
	return &status, nil
}
