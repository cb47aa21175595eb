package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/permephem/null-sub005/internal/domain"
	cryptoinfra "github.com/permephem/null-sub005/internal/infra/crypto"
)

const checkpointBatch = 512

type leafRecord struct {
	Height            uint64 `json:"height"`
	WarrantDigest     string `json:"warrantDigest"`
	AttestationDigest string `json:"attestationDigest"`
	Submitter         string `json:"submitter"`
	SubjectTag        string `json:"subjectTag"`
	ControllerDIDHash string `json:"controllerDidHash"`
	Assurance         uint8  `json:"assurance"`
	Fee               string `json:"fee"`
	Timestamp         int64  `json:"timestamp"`
}

// LeafHash is the RFC 6962 leaf hash of a record's canonical JSON form. Fee
// and timestamp are encoded as a decimal string and unix seconds so the leaf
// does not depend on how a store round-trips them.
func LeafHash(record domain.AnchoredRecord) (domain.Digest, error) {
	fee := "0"
	if record.Fee != nil {
		fee = record.Fee.String()
	}
	canonical, err := cryptoinfra.Canonicalize(leafRecord{
		Height:            record.Height,
		WarrantDigest:     record.WarrantDigest.Hex(),
		AttestationDigest: record.AttestationDigest.Hex(),
		Submitter:         record.Submitter.Hex(),
		SubjectTag:        record.SubjectTag.Hex(),
		ControllerDIDHash: record.ControllerDIDHash.Hex(),
		Assurance:         uint8(record.Assurance),
		Fee:               fee,
		Timestamp:         record.Timestamp.Unix(),
	})
	if err != nil {
		return domain.Digest{}, fmt.Errorf("canonicalize record: %w", err)
	}
	return domain.Digest(rfc6962.DefaultHasher.HashLeaf(canonical)), nil
}

// VerifyInclusion checks p against its own root using the RFC 6962 algorithm.
func VerifyInclusion(p domain.InclusionProof) error {
	if p.Height == 0 {
		return fmt.Errorf("height must be positive")
	}
	hashes := make([][]byte, len(p.Hashes))
	for i, h := range p.Hashes {
		hashes[i] = h.Bytes()
	}
	return proof.VerifyInclusion(rfc6962.DefaultHasher, p.Height-1, p.TreeSize, p.LeafHash.Bytes(), hashes, p.RootHash.Bytes())
}

// checkpointCache mirrors record leaf hashes in memory. Records are immutable,
// so the cache only ever grows by reading new heights from the store. Every
// perfect subtree above the leaves is hashed once, when the append that
// completes it happens, and kept in nodes.
type checkpointCache struct {
	store domain.LedgerStore
	rf    *compact.RangeFactory

	mu     sync.Mutex
	leaves [][]byte
	nodes  map[compact.NodeID][]byte
	tree   *compact.Range
}

func newCheckpointCache(store domain.LedgerStore) *checkpointCache {
	rf := &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	return &checkpointCache{
		store: store,
		rf:    rf,
		nodes: make(map[compact.NodeID][]byte),
		tree:  rf.NewEmptyRange(0),
	}
}

func (c *checkpointCache) visitLocked(id compact.NodeID, hash []byte) {
	if id.Level > 0 {
		c.nodes[id] = hash
	}
}

func (c *checkpointCache) syncLocked(ctx context.Context) error {
	count, err := c.store.Count(ctx)
	if err != nil {
		return err
	}
	for uint64(len(c.leaves)) < count {
		records, err := c.store.Records(ctx, uint64(len(c.leaves))+1, checkpointBatch)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("store reports %d records but returned none after height %d", count, len(c.leaves))
		}
		for _, record := range records {
			if record.Height != uint64(len(c.leaves))+1 {
				return fmt.Errorf("record height gap: expected %d, got %d", len(c.leaves)+1, record.Height)
			}
			leaf, err := LeafHash(record)
			if err != nil {
				return err
			}
			if err := c.tree.Append(leaf.Bytes(), c.visitLocked); err != nil {
				return err
			}
			c.leaves = append(c.leaves, leaf.Bytes())
		}
	}
	return nil
}

func (c *checkpointCache) checkpoint(ctx context.Context) (domain.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.syncLocked(ctx); err != nil {
		return domain.Checkpoint{}, err
	}
	return c.currentLocked()
}

func (c *checkpointCache) currentLocked() (domain.Checkpoint, error) {
	size := c.tree.End()
	if size == 0 {
		return domain.Checkpoint{Size: 0, RootHash: domain.Digest(rfc6962.DefaultHasher.EmptyRoot())}, nil
	}
	root, err := c.tree.GetRootHash(nil)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	return domain.Checkpoint{Size: size, RootHash: domain.Digest(root)}, nil
}

func (c *checkpointCache) inclusionProof(ctx context.Context, height uint64) (domain.InclusionProof, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.syncLocked(ctx); err != nil {
		return domain.InclusionProof{}, storeError(err)
	}
	size := uint64(len(c.leaves))
	if height == 0 || height > size {
		return domain.InclusionProof{}, domain.E(domain.ErrNotFound, domain.CodeRecordNotFound, "no record at that height")
	}
	cp, err := c.currentLocked()
	if err != nil {
		return domain.InclusionProof{}, err
	}
	index := height - 1
	nodes, err := proof.Inclusion(index, size)
	if err != nil {
		return domain.InclusionProof{}, err
	}
	raw := make([][]byte, 0, len(nodes.IDs))
	for _, id := range nodes.IDs {
		hash, err := c.subtreeHashLocked(id)
		if err != nil {
			return domain.InclusionProof{}, err
		}
		raw = append(raw, hash)
	}
	hashes, err := nodes.Rehash(raw, rfc6962.DefaultHasher.HashChildren)
	if err != nil {
		return domain.InclusionProof{}, err
	}
	out := domain.InclusionProof{
		Height:   height,
		LeafHash: domain.Digest(c.leaves[index]),
		TreeSize: cp.Size,
		RootHash: cp.RootHash,
		Hashes:   make([]domain.Digest, len(hashes)),
	}
	for i, h := range hashes {
		out.Hashes[i] = domain.Digest(h)
	}
	return out, nil
}

// subtreeHashLocked returns the hash of the perfect subtree rooted at id.
func (c *checkpointCache) subtreeHashLocked(id compact.NodeID) ([]byte, error) {
	if _, end := id.Coverage(); end > uint64(len(c.leaves)) {
		return nil, fmt.Errorf("node %+v exceeds tree size %d", id, len(c.leaves))
	}
	if id.Level == 0 {
		return c.leaves[id.Index], nil
	}
	hash, ok := c.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %+v is not a perfect subtree", id)
	}
	return hash, nil
}
