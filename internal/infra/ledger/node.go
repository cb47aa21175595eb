package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/permephem/null-sub005/internal/domain"
)

const defaultResultCacheSize = 4096

type txResult struct {
	record domain.AnchoredRecord
	err    error
}

type pendingTx struct {
	done   chan struct{}
	result txResult
}

type NodeOptions struct {
	// MaxInFlight bounds concurrently executing transactions. Submissions
	// beyond it fail with a transient NODE_BUSY error.
	MaxInFlight int
	ResultCache int
	Logger      logrus.FieldLogger
}

// Node is the relayer's client to the ledger. Submission and confirmation
// are separate: a submitted transaction runs to completion on its own
// goroutine regardless of what happens to the submitting request.
type Node struct {
	ledger  *Ledger
	account domain.Address
	log     logrus.FieldLogger

	seq      atomic.Uint64
	inflight chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending map[string]*pendingTx
	results *lru.Cache[string, txResult]
}

func NewNode(ledger *Ledger, account domain.Address, opts NodeOptions) (*Node, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}
	if opts.ResultCache <= 0 {
		opts.ResultCache = defaultResultCacheSize
	}
	results, err := lru.New[string, txResult](opts.ResultCache)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Node{
		ledger:   ledger,
		account:  account,
		log:      logger.WithField("component", "ledger-node"),
		inflight: make(chan struct{}, opts.MaxInFlight),
		pending:  make(map[string]*pendingTx),
		results:  results,
	}, nil
}

func (n *Node) Account() domain.Address { return n.account }

// SubmitAnchor hands req to the ledger and returns a transaction reference.
// Only admission happens under ctx; execution is detached from it.
func (n *Node) SubmitAnchor(ctx context.Context, req domain.AnchorRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.Wrap(domain.ErrTransient, domain.CodeLedgerUnavailable, err)
	}
	select {
	case n.inflight <- struct{}{}:
	default:
		return "", domain.E(domain.ErrTransient, domain.CodeNodeBusy, "too many transactions in flight")
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.inflight
		return "", domain.E(domain.ErrTransient, domain.CodeLedgerUnavailable, "node is shutting down")
	}
	ref := n.txRef(req)
	tx := &pendingTx{done: make(chan struct{})}
	n.pending[ref] = tx
	n.wg.Add(1)
	n.mu.Unlock()

	execCtx := context.WithoutCancel(ctx)
	go func() {
		defer n.wg.Done()
		defer func() { <-n.inflight }()

		record, err := n.ledger.Anchor(execCtx, n.account, req)
		tx.result = txResult{record: record, err: err}

		n.mu.Lock()
		delete(n.pending, ref)
		n.results.Add(ref, tx.result)
		n.mu.Unlock()
		close(tx.done)

		if err != nil {
			n.log.WithFields(logrus.Fields{"tx": ref, "code": domain.CodeOf(err)}).Warn("anchor transaction failed")
			return
		}
		n.log.WithFields(logrus.Fields{"tx": ref, "height": record.Height}).Debug("anchor transaction committed")
	}()
	return ref, nil
}

// AwaitAnchor blocks until the transaction commits or fails, or ctx ends.
// A ctx error leaves the transaction running.
func (n *Node) AwaitAnchor(ctx context.Context, ref string) (domain.AnchoredRecord, error) {
	n.mu.Lock()
	if result, ok := n.results.Get(ref); ok {
		n.mu.Unlock()
		return result.record, result.err
	}
	tx, ok := n.pending[ref]
	n.mu.Unlock()
	if !ok {
		return domain.AnchoredRecord{}, domain.E(domain.ErrNotFound, domain.CodeUnknownTx, "unknown transaction "+ref)
	}
	select {
	case <-tx.done:
		return tx.result.record, tx.result.err
	case <-ctx.Done():
		return domain.AnchoredRecord{}, ctx.Err()
	}
}

func (n *Node) IsAnchored(ctx context.Context, digest domain.Digest) (bool, error) {
	return n.ledger.IsAnchored(ctx, digest)
}

func (n *Node) LastAnchorHeight(ctx context.Context, digest domain.Digest) (uint64, error) {
	return n.ledger.LastAnchorHeight(ctx, digest)
}

func (n *Node) RecordFor(ctx context.Context, digest domain.Digest) (domain.AnchoredRecord, error) {
	return n.ledger.RecordFor(ctx, digest)
}

// Close refuses new submissions and waits for in-flight ones to finish.
func (n *Node) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Node) txRef(req domain.AnchorRequest) string {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], n.seq.Add(1))
	return ethcrypto.Keccak256Hash(
		n.account.Bytes(),
		req.WarrantDigest.Bytes(),
		req.AttestationDigest.Bytes(),
		seq[:],
	).Hex()
}
