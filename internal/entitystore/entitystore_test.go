package entitystore

import (
	"context"
	"testing"
)

const (
	kindCategory KindId = 1001
	kindItem     KindId = 1002
)

type category struct {
	Header
	Name string
}

func (c *category) Kind() KindId { return kindCategory }

type queueItem struct {
	Header
	Seq   uint64
	Value string
}

func (q *queueItem) Kind() KindId { return kindItem }

func init() {
	Register(&Schema{
		Kind:      kindCategory,
		Name:      "category",
		KeyPolicy: StrUniqueInsensitive,
		KeyOf:     func(e Entity) []byte { return EncodeStringKey(e.(*category).Name) },
		Marshal:   func(e Entity) ([]byte, error) { return []byte(e.(*category).Name), nil },
		Unmarshal: func(parent ObjId, body []byte) (Entity, error) {
			return &category{Header: Header{Parent: parent}, Name: string(body)}, nil
		},
	})
	Register(&Schema{
		Kind:      kindItem,
		Name:      "queueItem",
		KeyPolicy: NonStrMulti,
		KeyOf:     func(e Entity) []byte { return EncodeUintKey(e.(*queueItem).Seq) },
		Marshal: func(e Entity) ([]byte, error) {
			q := e.(*queueItem)
			b := EncodeUintKey(q.Seq)
			return append(b, []byte(q.Value)...), nil
		},
		Unmarshal: func(parent ObjId, body []byte) (Entity, error) {
			seq := decodeUintKey(body[:8])
			return &queueItem{Header: Header{Parent: parent}, Seq: seq, Value: string(body[8:])}, nil
		},
	})
}

func decodeUintKey(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestInsertAndLoad(t *testing.T) {
	st := openTestStore(t)

	var catId ObjId
	err := st.RunTxExclusive(func(tx *Tx) error {
		c := &category{Header: Header{Parent: Root}, Name: "Inbox"}
		if err := tx.InsertParentExists(c); err != nil {
			return err
		}
		catId = c.EntityID()
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = st.RunTxExclusive(func(tx *Tx) error {
		e, err := tx.Load(catId)
		if err != nil {
			return err
		}
		if e.(*category).Name != "Inbox" {
			t.Errorf("Name = %q", e.(*category).Name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestUniqueKeyCollision(t *testing.T) {
	st := openTestStore(t)

	err := st.RunTxExclusive(func(tx *Tx) error {
		return tx.InsertParentExists(&category{Header: Header{Parent: Root}, Name: "Inbox"})
	})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err = st.RunTxExclusive(func(tx *Tx) error {
		return tx.InsertParentExists(&category{Header: Header{Parent: Root}, Name: "INBOX"})
	})
	if err == nil {
		t.Fatal("expected case-insensitive key collision")
	}
}

func TestFindChildrenOrderedByKey(t *testing.T) {
	st := openTestStore(t)

	var parent ObjId
	err := st.RunTxExclusive(func(tx *Tx) error {
		c := &category{Header: Header{Parent: Root}, Name: "Queue"}
		if err := tx.InsertParentExists(c); err != nil {
			return err
		}
		parent = c.EntityID()
		for _, seq := range []uint64{30, 10, 20} {
			if err := tx.InsertParentExists(&queueItem{Header: Header{Parent: parent}, Seq: seq, Value: "x"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	var order []uint64
	err = st.RunTxExclusive(func(tx *Tx) error {
		return tx.EnumAllChildrenOfKind(parent, kindItem, func(e Entity) bool {
			order = append(order, e.(*queueItem).Seq)
			return true
		})
	})
	if err != nil {
		t.Fatalf("enum: %v", err)
	}
	want := []uint64{10, 20, 30}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestRemoveRequiresChildrenGone(t *testing.T) {
	st := openTestStore(t)

	var parent ObjId
	err := st.RunTxExclusive(func(tx *Tx) error {
		c := &category{Header: Header{Parent: Root}, Name: "WithChild"}
		if err := tx.InsertParentExists(c); err != nil {
			return err
		}
		parent = c.EntityID()
		return tx.InsertParentExists(&queueItem{Header: Header{Parent: parent}, Seq: 1, Value: "x"})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected Ensure violation removing entity with live children")
			}
		}()
		_ = st.RunTxExclusive(func(tx *Tx) error {
			return tx.Remove(parent)
		})
	}()

	err = st.RunTxExclusive(func(tx *Tx) error {
		return tx.RemoveChildren(parent)
	})
	if err != nil {
		t.Fatalf("RemoveChildren: %v", err)
	}
	err = st.RunTxExclusive(func(tx *Tx) error {
		return tx.Remove(parent)
	})
	if err != nil {
		t.Fatalf("Remove after children gone: %v", err)
	}
}

func TestPostCommitActionRunsOnce(t *testing.T) {
	st := openTestStore(t)

	calls := 0
	err := st.RunTxExclusive(func(tx *Tx) error {
		tx.AddPostCommitAction(func() { calls++ })
		return tx.InsertParentExists(&category{Header: Header{Parent: Root}, Name: "X"})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPostCommitActionDiscardedOnAbort(t *testing.T) {
	st := openTestStore(t)

	calls := 0
	err := st.RunTxExclusive(func(tx *Tx) error {
		tx.AddPostCommitAction(func() { calls++ })
		return errAbort
	})
	if err == nil {
		t.Fatal("expected abort error")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

var errAbort = &abortErr{}

type abortErr struct{}

func (*abortErr) Error() string { return "deliberate abort" }

func TestOptimisticRunTxSingleAttemptWithoutContention(t *testing.T) {
	st := openTestStore(t)

	attempts := 0
	err := st.RunTx(context.Background(), "test", func(tx *Tx) error {
		attempts++
		return tx.InsertParentExists(&category{Header: Header{Parent: Root}, Name: "Optimistic"})
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no contention expected)", attempts)
	}
}

func TestStoreRecoversCatalogAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var id ObjId
	err = st.RunTxExclusive(func(tx *Tx) error {
		c := &category{Header: Header{Parent: Root}, Name: "Persisted"}
		if err := tx.InsertParentExists(c); err != nil {
			return err
		}
		id = c.EntityID()
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	st.Close()

	st2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	err = st2.RunTxExclusive(func(tx *Tx) error {
		e, err := tx.Load(id)
		if err != nil {
			return err
		}
		if e.(*category).Name != "Persisted" {
			t.Errorf("Name = %q", e.(*category).Name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
}

func TestStatsCounters(t *testing.T) {
	st := openTestStore(t)

	_ = st.RunTxExclusive(func(tx *Tx) error { return nil })
	if st.Stats.RunTxExclusive.Load() != 1 {
		t.Errorf("RunTxExclusive = %d", st.Stats.RunTxExclusive.Load())
	}
	if st.Stats.CommitTx.Load() != 1 {
		t.Errorf("CommitTx = %d", st.Stats.CommitTx.Load())
	}

	_ = st.RunTx(context.Background(), "t", func(tx *Tx) error { return nil })
	if st.Stats.TryRunTxNonExclusive.Load() != 1 {
		t.Errorf("TryRunTxNonExclusive = %d", st.Stats.TryRunTxNonExclusive.Load())
	}
}
