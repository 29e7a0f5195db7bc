package entitystore

import (
	"fmt"
	"time"

	"github.com/nyholt/atomicmail/framework/ensure"
)

type pendingInsert struct {
	kind      KindId
	parent    ObjId
	keyRaw    []byte
	createdAt time.Time
}

// Tx is a single entity-store transaction. Obtain one via
// Store.RunTxExclusive or Store.RunTx; never construct directly.
type Tx struct {
	store     *Store
	exclusive bool

	reads map[ObjId]uint64 // id -> generation observed at read time

	pendingInserts     map[ObjId]*pendingInsert
	pendingBodies      map[ObjId][]byte
	pendingUpdates     map[ObjId][]byte
	pendingUpdateKeys  map[ObjId][]byte
	pendingRemoves     map[ObjId]bool

	postCommitFns []func()
}

func newTx(st *Store, exclusive bool) *Tx {
	return &Tx{
		store:             st,
		exclusive:         exclusive,
		reads:             make(map[ObjId]uint64),
		pendingInserts:    make(map[ObjId]*pendingInsert),
		pendingBodies:     make(map[ObjId][]byte),
		pendingUpdates:    make(map[ObjId][]byte),
		pendingUpdateKeys: make(map[ObjId][]byte),
		pendingRemoves:    make(map[ObjId]bool),
	}
}

func (tx *Tx) runPostCommit() {
	for _, f := range tx.postCommitFns {
		f()
	}
}

// withReadLock runs fn with the store's catalog safe to read: for an
// exclusive transaction the write lock is already held for the whole
// duration, so fn just runs; for an optimistic transaction a short RLock is
// taken around fn only.
func (tx *Tx) withReadLock(fn func()) {
	if tx.exclusive {
		fn()
		return
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	fn()
}

func (tx *Tx) recordRead(id ObjId, rec *record) {
	if _, already := tx.reads[id]; !already {
		tx.reads[id] = rec.Generation
	}
}

// live returns the catalog record for id as tx currently sees it: its own
// pending writes take priority over the last-committed snapshot, so a
// transaction observes its own writes.
func (tx *Tx) live(id ObjId) (*record, bool) {
	if tx.pendingRemoves[id] {
		return nil, false
	}
	if ins, ok := tx.pendingInserts[id]; ok {
		return &record{Kind: ins.kind, Parent: ins.parent, KeyRaw: ins.keyRaw, CreatedAt: ins.createdAt}, true
	}
	var rec *record
	var ok bool
	tx.withReadLock(func() {
		rec, ok = tx.store.catalog[id]
	})
	if !ok {
		return nil, false
	}
	if _, updated := tx.pendingUpdates[id]; updated {
		cp := *rec
		cp.KeyRaw = tx.pendingUpdateKeys[id]
		return &cp, true
	}
	return rec, true
}

// parentExists reports whether id is Root or a live, non-removed entity.
func (tx *Tx) parentExists(id ObjId) bool {
	if id == Root {
		return true
	}
	_, ok := tx.live(id)
	return ok
}

// Load reads e's identified entity, recording it in the transaction's read
// set for conflict detection. The returned value is a snapshot: mutating it
// has no effect on the store until passed to Update.
func (tx *Tx) Load(id ObjId) (Entity, error) {
	if body, ok := tx.pendingBodies[id]; ok {
		ins := tx.pendingInserts[id]
		schema, err := schemaFor(ins.kind)
		if err != nil {
			return nil, err
		}
		e, err := schema.Unmarshal(ins.parent, body)
		if err != nil {
			return nil, err
		}
		e.setEntityID(id)
		return e, nil
	}

	var rec *record
	var body []byte
	var ok bool
	tx.withReadLock(func() {
		rec, ok = tx.store.catalog[id]
	})
	if !ok {
		return nil, fmt.Errorf("entitystore: entity %s not found", id)
	}
	if newBody, updated := tx.pendingUpdates[id]; updated {
		body = newBody
	} else {
		var err error
		body, err = tx.store.objs.Read(rec.Ref)
		if err != nil {
			return nil, err
		}
	}

	tx.recordRead(id, rec)

	schema, err := schemaFor(rec.Kind)
	if err != nil {
		return nil, err
	}
	e, err := schema.Unmarshal(rec.Parent, body)
	if err != nil {
		return nil, err
	}
	e.setEntityID(id)
	return e, nil
}

func (tx *Tx) insert(e Entity, requireParentLoaded bool) error {
	schema, err := schemaFor(e.Kind())
	if err != nil {
		return err
	}
	parent := e.ParentID()

	if requireParentLoaded {
		ensure.Ensure(parent == Root || tx.reads[parent] != 0 || tx.pendingInserts[parent] != nil,
			"entitystore: Insert_ParentLoaded called without loading parent", "parent", parent.String())
	}
	if !tx.parentExists(parent) {
		return fmt.Errorf("entitystore: parent %s does not exist", parent)
	}

	var keyRaw []byte
	if schema.KeyOf != nil {
		keyRaw = schema.KeyOf(e)
	}

	if schema.KeyPolicy == StrUniqueInsensitive || schema.KeyPolicy == NonStrUnique {
		if exists, err := tx.keyExists(parent, schema.Kind, keyRaw, None); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("entitystore: key collision under parent %s for kind %d", parent, schema.Kind)
		}
	}

	id := NewObjId()
	e.setEntityID(id)

	body, err := schema.Marshal(e)
	if err != nil {
		return err
	}

	tx.pendingInserts[id] = &pendingInsert{
		kind:      schema.Kind,
		parent:    parent,
		keyRaw:    keyRaw,
		createdAt: time.Now(),
	}
	tx.pendingBodies[id] = body
	return nil
}

// InsertParentExists assigns e a fresh id and inserts it, checking that its
// parent currently exists (without requiring the caller to have loaded it
// inside this transaction).
func (tx *Tx) InsertParentExists(e Entity) error {
	return tx.insert(e, false)
}

// InsertParentLoaded behaves like InsertParentExists but additionally
// asserts (an Invariant violation if false) that the parent was already
// Load()ed within this same transaction, for callers that want concurrent
// parent removal detected as a conflict rather than silently racing.
func (tx *Tx) InsertParentLoaded(e Entity) error {
	return tx.insert(e, true)
}

// Update records the new serialization of a previously loaded entity.
// Conflicts with a concurrent committed modification are detected at commit
// time via the transaction's read-set.
func (tx *Tx) Update(e Entity) error {
	id := e.EntityID()
	if _, ok := tx.reads[id]; !ok && tx.pendingInserts[id] == nil {
		return fmt.Errorf("entitystore: Update on entity %s not loaded in this transaction", id)
	}

	schema, err := schemaFor(e.Kind())
	if err != nil {
		return err
	}
	body, err := schema.Marshal(e)
	if err != nil {
		return err
	}

	var keyRaw []byte
	if schema.KeyOf != nil {
		keyRaw = schema.KeyOf(e)
	}

	if ins, isNewInTx := tx.pendingInserts[id]; isNewInTx {
		ins.keyRaw = keyRaw
		tx.pendingBodies[id] = body
		return nil
	}

	tx.pendingUpdates[id] = body
	tx.pendingUpdateKeys[id] = keyRaw
	return nil
}

// Remove deletes a single entity. The caller is responsible for ensuring it
// has no remaining children (or for calling RemoveChildren first) — per the
// invariant, removing an entity with live children is a programming error.
func (tx *Tx) Remove(id ObjId) error {
	hasChildren := false
	_ = tx.EnumAllChildren(id, func(Entity) bool {
		hasChildren = true
		return false
	})
	ensure.Ensure(!hasChildren, "entitystore: Remove called on entity with live children", "id", id.String())

	if _, isNewInTx := tx.pendingInserts[id]; isNewInTx {
		delete(tx.pendingInserts, id)
		delete(tx.pendingBodies, id)
		return nil
	}

	tx.pendingRemoves[id] = true
	delete(tx.pendingUpdates, id)
	delete(tx.pendingUpdateKeys, id)
	return nil
}

// RemoveChildren recursively removes every descendant of parentId (but not
// parentId itself).
func (tx *Tx) RemoveChildren(parentId ObjId) error {
	var ids []ObjId
	if err := tx.EnumAllChildren(parentId, func(e Entity) bool {
		ids = append(ids, e.EntityID())
		return true
	}); err != nil {
		return err
	}
	for _, id := range ids {
		if err := tx.RemoveChildren(id); err != nil {
			return err
		}
		if err := tx.Remove(id); err != nil {
			return err
		}
	}
	return nil
}

// keyExists checks whether a sibling other than excludeId already has the
// given raw key under parent/kind, honoring case-insensitive comparison
// when the schema's policy calls for it.
func (tx *Tx) keyExists(parent ObjId, kind KindId, keyRaw []byte, excludeId ObjId) (bool, error) {
	found := false
	err := tx.EnumAllChildrenOfKind(parent, kind, func(e Entity) bool {
		if e.EntityID() == excludeId {
			return true
		}
		schema, _ := schemaFor(kind)
		if schema.KeyOf == nil {
			return true
		}
		if compareKeys(schema.KeyOf(e), keyRaw) == 0 {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// FindChild looks up the unique child of parent/kind with the given raw key
// (StrUniqueInsensitive keys should be passed through EncodeStringKey first).
func (tx *Tx) FindChild(parent ObjId, kind KindId, keyRaw []byte) (Entity, bool, error) {
	var result Entity
	schema, err := schemaFor(kind)
	if err != nil {
		return nil, false, err
	}
	err = tx.EnumAllChildrenOfKind(parent, kind, func(e Entity) bool {
		if schema.KeyOf != nil && compareKeys(schema.KeyOf(e), keyRaw) == 0 {
			result = e
			return false
		}
		return true
	})
	return result, result != nil, err
}

// FindChildId is FindChild but returns only the id, avoiding a full
// deserialization when the caller just needs identity.
func (tx *Tx) FindChildId(parent ObjId, kind KindId, keyRaw []byte) (ObjId, bool, error) {
	e, ok, err := tx.FindChild(parent, kind, keyRaw)
	if !ok || err != nil {
		return ObjId{}, ok, err
	}
	return e.EntityID(), true, nil
}

// ChildWithSameKeyExists reports whether probe's key already has a sibling
// under parent, excluding probe itself (useful when checking a key change
// before Update).
func (tx *Tx) ChildWithSameKeyExists(parent ObjId, probe Entity) (bool, error) {
	schema, err := schemaFor(probe.Kind())
	if err != nil {
		return false, err
	}
	if schema.KeyOf == nil {
		return false, nil
	}
	return tx.keyExists(parent, probe.Kind(), schema.KeyOf(probe), probe.EntityID())
}

// EnumAllChildren visits every live child of parent (of any kind), in
// id-stable but not otherwise specified cross-kind order. f returning false
// stops enumeration early.
func (tx *Tx) EnumAllChildren(parent ObjId, f func(Entity) bool) error {
	kinds := make(map[KindId]bool)
	tx.withReadLock(func() {
		for k := range tx.store.children[parent] {
			kinds[k] = true
		}
	})
	for _, ins := range tx.pendingInserts {
		if ins.parent == parent {
			kinds[ins.kind] = true
		}
	}

	for kind := range kinds {
		cont := true
		err := tx.EnumAllChildrenOfKind(parent, kind, func(e Entity) bool {
			cont = f(e)
			return cont
		})
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// EnumAllChildrenOfKind visits every live child of parent with the given
// kind, ordered by the schema's declared key (ties broken by entity id).
func (tx *Tx) EnumAllChildrenOfKind(parent ObjId, kind KindId, f func(Entity) bool) error {
	return tx.FindChildren(parent, kind, nil, nil, f)
}

// FindChildren visits children of parent/kind ordered by key, optionally
// bounded to keys in [loKey, hiKey] (either may be nil for an open bound).
// It is named after the time-keyed use (SmtpMsgToSend.nextAttemptTime) but
// works for any NonStrMulti/NonStrUnique/StrUniqueInsensitive key.
func (tx *Tx) FindChildren(parent ObjId, kind KindId, loKey, hiKey []byte, f func(Entity) bool) error {
	if _, err := schemaFor(kind); err != nil {
		return err
	}

	var committedIds []ObjId
	tx.withReadLock(func() {
		committedIds = append(committedIds, tx.store.children[parent][kind]...)
	})

	merged := make([]ObjId, 0, len(committedIds))
	seen := make(map[ObjId]bool)
	for _, id := range committedIds {
		if tx.pendingRemoves[id] {
			continue
		}
		merged = append(merged, id)
		seen[id] = true
	}
	for id, ins := range tx.pendingInserts {
		if ins.parent == parent && ins.kind == kind && !seen[id] {
			merged = append(merged, id)
		}
	}

	type keyed struct {
		id  ObjId
		key []byte
	}
	entries := make([]keyed, 0, len(merged))
	for _, id := range merged {
		rec, ok := tx.live(id)
		if !ok {
			continue
		}
		entries = append(entries, keyed{id, rec.sortKey(id)})
	}

	// Insertion sort is adequate: child counts per parent are small
	// (mailboxes/attempts per message), and this runs inside a held lock.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && compareKeys(entries[j-1].key, entries[j].key) > 0; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}

	for _, en := range entries {
		raw := en.key[:len(en.key)-len(en.id)]
		if loKey != nil && compareKeys(raw, loKey) < 0 {
			continue
		}
		if hiKey != nil && compareKeys(raw, hiKey) > 0 {
			continue
		}
		e, err := tx.Load(en.id)
		if err != nil {
			return err
		}
		if !f(e) {
			return nil
		}
	}
	return nil
}

// AddPostCommitAction registers f to run exactly once, after this
// transaction commits, outside the store's critical section. If the
// transaction aborts (returns an error, or loses an optimistic race and is
// retried), f is discarded — only the attempt that actually commits runs
// its post-commit actions.
func (tx *Tx) AddPostCommitAction(f func()) {
	tx.postCommitFns = append(tx.postCommitFns, f)
}
