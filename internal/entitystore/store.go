// Package entitystore implements the transactional layer described by the
// data model and entity-store component designs: typed, schema-registered
// entities with hierarchical parent/child keys, exclusive and optimistic
// transactions, ordered child enumeration, and post-commit hooks, persisted
// through internal/objstore.
package entitystore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nyholt/atomicmail/internal/objstore"
)

// record is the catalog entry for one committed entity: everything the
// store needs to find, order, and validate it without deserializing its
// body.
type record struct {
	Kind       KindId
	Parent     ObjId
	KeyRaw     []byte // raw (pre multi-key) key bytes, nil if NoKey
	Ref        objstore.Ref
	Generation uint64
	CreatedAt  time.Time
}

// sortKey returns the byte string children are ordered by within their
// parent/kind bucket: the raw key with the entity id appended, so ordering
// is total even when NonStrMulti keys repeat across siblings.
func (r *record) sortKey(id ObjId) []byte {
	return encodeMultiKey(r.KeyRaw, id)
}

// Store is the entity store: the transactional layer atop an objstore.Store.
type Store struct {
	objs *objstore.Store
	dir  string

	mu sync.RWMutex // exclusive writers take Lock(); optimistic readers RLock()

	catalog  map[ObjId]*record
	children map[ObjId]map[KindId][]ObjId // parent -> kind -> child ids, sorted by sortKey

	genCounter uint64

	Stats objstore.Stats
}

// Open opens or creates an entity store rooted at dir.
func Open(dir string) (*Store, error) {
	objs, err := objstore.Open(filepath.Join(dir, "objects"))
	if err != nil {
		return nil, err
	}

	st := &Store{
		objs:     objs,
		dir:      dir,
		catalog:  make(map[ObjId]*record),
		children: make(map[ObjId]map[KindId][]ObjId),
	}

	if err := st.loadCatalog(); err != nil {
		objs.Close()
		return nil, err
	}

	return st, nil
}

// Close releases underlying file handles.
func (st *Store) Close() error {
	return st.objs.Close()
}

// SetWritePlanTest forwards to the underlying object store's fault injector.
func (st *Store) SetWritePlanTest(enable bool, odds int) {
	st.objs.SetWritePlanTest(enable, odds)
}

func (st *Store) catalogPath() string {
	return filepath.Join(st.dir, "catalog.json")
}

type catalogEntryJSON struct {
	ID         string `json:"id"`
	Kind       uint32 `json:"kind"`
	Parent     string `json:"parent"`
	KeyRaw     string `json:"key,omitempty"`
	File       int    `json:"file"`
	Offset     int64  `json:"offset"`
	Length     int64  `json:"length"`
	Generation uint64 `json:"gen"`
	CreatedAt  int64  `json:"created"`
}

func (st *Store) loadCatalog() error {
	f, err := os.Open(st.catalogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var entries []catalogEntryJSON
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return fmt.Errorf("entitystore: corrupt catalog: %w", err)
	}

	for _, e := range entries {
		id, err := ParseObjId(e.ID)
		if err != nil {
			return err
		}
		parent, err := ParseObjId(e.Parent)
		if err != nil {
			return err
		}
		var keyRaw []byte
		if e.KeyRaw != "" {
			keyRaw, err = base64.StdEncoding.DecodeString(e.KeyRaw)
			if err != nil {
				return err
			}
		}
		rec := &record{
			Kind:       KindId(e.Kind),
			Parent:     parent,
			KeyRaw:     keyRaw,
			Ref:        objstore.Ref{File: e.File, Offset: e.Offset, Length: e.Length},
			Generation: e.Generation,
			CreatedAt:  time.Unix(0, e.CreatedAt),
		}
		st.catalog[id] = rec
		st.indexInsert(id, rec)
		if rec.Generation > st.genCounter {
			st.genCounter = rec.Generation
		}
	}
	return nil
}

// writeCatalog durably persists the in-memory catalog via the same
// create-temp/fsync/atomic-rename idiom the teacher uses for queue
// metadata (internal/target/queue.updateMetadataOnDisk).
func (st *Store) writeCatalog() error {
	entries := make([]catalogEntryJSON, 0, len(st.catalog))
	for id, rec := range st.catalog {
		entries = append(entries, catalogEntryJSON{
			ID:         id.String(),
			Kind:       uint32(rec.Kind),
			Parent:     rec.Parent.String(),
			KeyRaw:     base64.StdEncoding.EncodeToString(rec.KeyRaw),
			File:       rec.Ref.File,
			Offset:     rec.Ref.Offset,
			Length:     rec.Ref.Length,
			Generation: rec.Generation,
			CreatedAt:  rec.CreatedAt.UnixNano(),
		})
	}

	tmp := st.catalogPath() + ".new"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(entries); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, st.catalogPath())
}

func (st *Store) indexInsert(id ObjId, rec *record) {
	byKind := st.children[rec.Parent]
	if byKind == nil {
		byKind = make(map[KindId][]ObjId)
		st.children[rec.Parent] = byKind
	}
	list := byKind[rec.Kind]
	key := rec.sortKey(id)
	i := sort.Search(len(list), func(i int) bool {
		other := st.catalog[list[i]]
		return compareKeys(other.sortKey(list[i]), key) >= 0
	})
	list = append(list, ObjId{})
	copy(list[i+1:], list[i:])
	list[i] = id
	byKind[rec.Kind] = list
}

func (st *Store) indexRemove(id ObjId, rec *record) {
	byKind := st.children[rec.Parent]
	if byKind == nil {
		return
	}
	list := byKind[rec.Kind]
	for i, other := range list {
		if other == id {
			byKind[rec.Kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (st *Store) nextGeneration() uint64 {
	st.genCounter++
	return st.genCounter
}

// fileIndexFor spreads objects across the fixed data-file set by hashing
// the id, the same "pick a bucket, don't care which" approach queue.go uses
// implicitly via per-message files.
func fileIndexFor(id ObjId) int {
	sum := 0
	for _, b := range id {
		sum += int(b)
	}
	return sum % objstore.NrDataFiles
}

// RunTxExclusive serializes f with all other writers and commits its
// results atomically. It blocks until the exclusive lock is available.
func (st *Store) RunTxExclusive(f func(tx *Tx) error) error {
	st.Stats.RunTxExclusive.Add(1)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.Stats.StartTx.Add(1)
	tx := newTx(st, true)
	if err := f(tx); err != nil {
		st.Stats.AbortTx.Add(1)
		return err
	}
	if err := st.applyTx(tx); err != nil {
		st.Stats.AbortTx.Add(1)
		return err
	}
	st.Stats.CommitTx.Add(1)
	tx.runPostCommit()
	return nil
}

// maxOptimisticAttempts bounds how many times RunTx retries f before
// escalating to an exclusive transaction.
const maxOptimisticAttempts = 8

// RunTx runs f optimistically: it takes a snapshot, runs f, and attempts to
// commit. On conflict with a concurrently committed writer it retries f from
// scratch with a fresh snapshot, escalating to RunTxExclusive after
// maxOptimisticAttempts give-ups. ctx cancellation aborts the retry loop.
func (st *Store) RunTx(ctx context.Context, txTypeTag string, f func(tx *Tx) error) error {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		st.Stats.TryRunTxNonExclusive.Add(1)
		st.Stats.StartTx.Add(1)
		tx := newTx(st, false)
		if err := f(tx); err != nil {
			st.Stats.AbortTx.Add(1)
			return err
		}

		ok, err := st.tryCommit(tx)
		if err != nil {
			st.Stats.AbortTx.Add(1)
			return err
		}
		if ok {
			st.Stats.CommitTx.Add(1)
			tx.runPostCommit()
			return nil
		}

		st.Stats.NonExclusiveGiveUps.Add(1)
		if attempt+1 >= maxOptimisticAttempts {
			return st.RunTxExclusive(f)
		}
	}
}

// tryCommit validates tx's reads against the current catalog and, if still
// consistent, applies it — all under a single write-lock acquisition so
// validate-then-apply is atomic.
func (st *Store) tryCommit(tx *Tx) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for id, gen := range tx.reads {
		cur, ok := st.catalog[id]
		if !ok || cur.Generation != gen {
			return false, nil
		}
	}
	if err := st.applyTx(tx); err != nil {
		return false, err
	}
	return true, nil
}

// applyTx writes tx's pending inserts/updates/removes through the object
// store and updates the in-memory catalog/index plus its durable snapshot.
// Caller must hold st.mu for writing.
func (st *Store) applyTx(tx *Tx) error {
	var plan objstore.Plan
	gen := st.nextGeneration()

	type newRecord struct {
		id  ObjId
		rec *record
	}
	var newRecs []newRecord

	for id, ins := range tx.pendingInserts {
		ref, err := st.objs.Append(&plan, fileIndexFor(id), tx.pendingBodies[id])
		if err != nil {
			return err
		}
		rec := &record{
			Kind:       ins.kind,
			Parent:     ins.parent,
			KeyRaw:     ins.keyRaw,
			Ref:        ref,
			Generation: gen,
			CreatedAt:  ins.createdAt,
		}
		newRecs = append(newRecs, newRecord{id, rec})
	}

	for id, body := range tx.pendingUpdates {
		old := st.catalog[id]
		ref, err := st.objs.Append(&plan, fileIndexFor(id), body)
		if err != nil {
			return err
		}
		st.objs.Free(&plan, old.Ref)
		updated := &record{
			Kind:       old.Kind,
			Parent:     old.Parent,
			KeyRaw:     tx.pendingUpdateKeys[id],
			Ref:        ref,
			Generation: gen,
			CreatedAt:  old.CreatedAt,
		}
		newRecs = append(newRecs, newRecord{id, updated})
	}

	for id := range tx.pendingRemoves {
		old := st.catalog[id]
		st.objs.Free(&plan, old.Ref)
	}

	if err := st.objs.Commit(plan); err != nil {
		return err
	}

	for id := range tx.pendingRemoves {
		old := st.catalog[id]
		st.indexRemove(id, old)
		delete(st.catalog, id)
	}
	for _, nr := range newRecs {
		if old, exists := st.catalog[nr.id]; exists {
			st.indexRemove(nr.id, old)
		}
		st.catalog[nr.id] = nr.rec
		st.indexInsert(nr.id, nr.rec)
	}

	if err := st.writeCatalog(); err != nil {
		return err
	}
	return nil
}
