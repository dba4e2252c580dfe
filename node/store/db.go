package store

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"

	"github.com/shanmukanaks/protocol/exchange"
)

var (
	bucketVaults  = []byte("vault_commitments")
	bucketSwaps   = []byte("swap_commitments")
	bucketMeta    = []byte("ledger_meta")
	bucketHeaders = []byte("headers_by_height")

	keyAccumulatedFees = []byte("accumulated_fees")
	keyLightClientRoot = []byte("light_client_root")
)

// DB is the bbolt-backed commitment store. Commitment sequences are keyed
// by big-endian index so the last key encodes the length.
type DB struct {
	chainDir string
	db       *bolt.DB

	mu       sync.Mutex
	manifest *Manifest
	active   *bolt.Tx // write transaction of the running Update
	now      func() time.Time
}

func Open(datadir string, chainIDHex string) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if chainIDHex == "" {
		return nil, fmt.Errorf("chain_id_hex required")
	}

	chainDir := ChainDir(datadir, chainIDHex)
	if err := ensureLayout(chainDir); err != nil {
		return nil, err
	}
	m, err := loadOrInitManifest(chainDir, chainIDHex)
	if err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(dbPath(chainDir), 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	d := &DB{chainDir: chainDir, db: bdb, now: time.Now}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketVaults, bucketSwaps, bucketMeta, bucketHeaders} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	d.manifest = m
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ChainDir() string { return d.chainDir }

func (d *DB) Manifest() Manifest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.manifest
}

// SaveLightClientRoot stores root next to the commitments. Called from inside
// an Update callback it joins that transaction, so the root and the ledger
// commit or roll back together. The manifest copy is refreshed only after
// a commit.
func (d *DB) SaveLightClientRoot(root [32]byte) error {
	d.mu.Lock()
	tx := d.active
	d.mu.Unlock()
	if tx != nil {
		return d.stageRoot(tx, root)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return d.stageRoot(tx, root)
	})
}

func (d *DB) stageRoot(tx *bolt.Tx, root [32]byte) error {
	if err := tx.Bucket(bucketMeta).Put(keyLightClientRoot, append([]byte(nil), root[:]...)); err != nil {
		return fmt.Errorf("ledger_meta: put light_client_root: %w", err)
	}
	tx.OnCommit(func() { d.mirrorRoot(root) })
	return nil
}

// mirrorRoot copies a committed root into the manifest. bbolt stays
// authoritative; a failed write leaves the previous copy until the next save.
func (d *DB) mirrorRoot(root [32]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.manifest.withRoot(hex32(root), d.now())
	if err := writeManifest(d.chainDir, &next); err != nil {
		return
	}
	d.manifest = &next
}

// LightClientRoot returns the committed root, if any.
func (d *DB) LightClientRoot() ([32]byte, bool, error) {
	var (
		root [32]byte
		ok   bool
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyLightClientRoot)
		if v == nil {
			return nil
		}
		if len(v) != 32 {
			return fmt.Errorf("ledger_meta: light_client_root has %d bytes", len(v))
		}
		root, ok = [32]byte(v), true
		return nil
	})
	if err != nil {
		return [32]byte{}, false, err
	}
	return root, ok, nil
}

func (d *DB) View(fn func(exchange.StoreReader) error) error {
	return d.db.View(func(tx *bolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
}

// Update runs fn in one bbolt write transaction. Returning an error from fn
// rolls back every staged write.
func (d *DB) Update(fn func(exchange.StoreTx) error) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		d.setActive(tx)
		defer d.setActive(nil)
		return fn(boltTx{tx: tx})
	})
}

func (d *DB) setActive(tx *bolt.Tx) {
	d.mu.Lock()
	d.active = tx
	d.mu.Unlock()
}

// PutHeaders replaces every stored header at or above first with headers.
func (d *DB) PutHeaders(first uint32, headers []wire.BlockHeader) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHeaders)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(u64Key(uint64(first))); k != nil; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("headers: delete %x: %w", k, err)
			}
		}
		for i := range headers {
			var buf bytes.Buffer
			if err := headers[i].Serialize(&buf); err != nil {
				return fmt.Errorf("headers: serialize: %w", err)
			}
			if err := b.Put(u64Key(uint64(first)+uint64(i)), buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadHeaders returns the stored headers in height order with the height of
// the first one.
func (d *DB) LoadHeaders() (uint32, []wire.BlockHeader, error) {
	var first uint32
	var out []wire.BlockHeader
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeaders).ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return fmt.Errorf("headers: malformed key %x", k)
			}
			height := binary.BigEndian.Uint64(k)
			if out == nil {
				first = uint32(height) // #nosec G115 -- keys are written from uint32 heights.
			} else if height != uint64(first)+uint64(len(out)) {
				return fmt.Errorf("headers: gap at height %d", height)
			}
			var h wire.BlockHeader
			if err := h.Deserialize(bytes.NewReader(v)); err != nil {
				return fmt.Errorf("headers: decode height %d: %w", height, err)
			}
			out = append(out, h)
			return nil
		})
	})
	if err != nil {
		return 0, nil, err
	}
	return first, out, nil
}

type boltTx struct {
	tx *bolt.Tx
}

func (t boltTx) VaultCommitmentsLen() (uint64, error) {
	return seqLen(t.tx.Bucket(bucketVaults))
}

func (t boltTx) VaultCommitment(index uint64) ([32]byte, error) {
	return seqGet(t.tx.Bucket(bucketVaults), index, "vault")
}

func (t boltTx) SwapCommitmentsLen() (uint64, error) {
	return seqLen(t.tx.Bucket(bucketSwaps))
}

func (t boltTx) SwapCommitment(index uint64) ([32]byte, error) {
	return seqGet(t.tx.Bucket(bucketSwaps), index, "swap")
}

func (t boltTx) AccumulatedFees() (uint256.Int, error) {
	var fees uint256.Int
	v := t.tx.Bucket(bucketMeta).Get(keyAccumulatedFees)
	if v == nil {
		return fees, nil
	}
	if len(v) != 32 {
		return fees, fmt.Errorf("ledger_meta: accumulated_fees has %d bytes", len(v))
	}
	fees.SetBytes32(v)
	return fees, nil
}

func (t boltTx) AppendVaultCommitment(h [32]byte) (uint64, error) {
	return seqAppend(t.tx.Bucket(bucketVaults), h)
}

func (t boltTx) SetVaultCommitment(index uint64, h [32]byte) error {
	return seqSet(t.tx.Bucket(bucketVaults), index, h, "vault")
}

func (t boltTx) AppendSwapCommitment(h [32]byte) (uint64, error) {
	return seqAppend(t.tx.Bucket(bucketSwaps), h)
}

func (t boltTx) SetSwapCommitment(index uint64, h [32]byte) error {
	return seqSet(t.tx.Bucket(bucketSwaps), index, h, "swap")
}

func (t boltTx) SetAccumulatedFees(v uint256.Int) error {
	b := v.Bytes32()
	return t.tx.Bucket(bucketMeta).Put(keyAccumulatedFees, b[:])
}

func u64Key(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func seqLen(b *bolt.Bucket) (uint64, error) {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 0, nil
	}
	if len(k) != 8 {
		return 0, fmt.Errorf("store: malformed key %x", k)
	}
	return binary.BigEndian.Uint64(k) + 1, nil
}

func seqGet(b *bolt.Bucket, index uint64, what string) ([32]byte, error) {
	v := b.Get(u64Key(index))
	if v == nil {
		return [32]byte{}, fmt.Errorf("%s %d: %w", what, index, exchange.ErrIndexOutOfRange)
	}
	if len(v) != 32 {
		return [32]byte{}, fmt.Errorf("%s %d: stored commitment has %d bytes", what, index, len(v))
	}
	return [32]byte(v), nil
}

func seqAppend(b *bolt.Bucket, h [32]byte) (uint64, error) {
	n, err := seqLen(b)
	if err != nil {
		return 0, err
	}
	if err := b.Put(u64Key(n), append([]byte(nil), h[:]...)); err != nil {
		return 0, err
	}
	return n, nil
}

func seqSet(b *bolt.Bucket, index uint64, h [32]byte, what string) error {
	key := u64Key(index)
	if b.Get(key) == nil {
		return fmt.Errorf("%s %d: %w", what, index, exchange.ErrIndexOutOfRange)
	}
	return b.Put(key, append([]byte(nil), h[:]...))
}

func hex32(b32 [32]byte) string {
	return hex.EncodeToString(b32[:])
}

var _ exchange.CommitmentStore = (*DB)(nil)
