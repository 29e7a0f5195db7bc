package entitystore

import (
	"encoding/json"
	"fmt"
)

// ImportOp is one instruction in an import batch: find an existing entity
// (by parent/kind/key), remove one, or insert one. Op j optionally binds the
// resulting ObjId to a label so a later instruction in the same batch can
// reference an entity created earlier in the batch (e.g. insert a category,
// then insert a child of it) by putting that label in RefField values that
// the caller's Schema.Unmarshal understands as "look up this label".
type ImportOp struct {
	Instruction string          `json:"i"` // "find" | "remove" | "insert"
	Label       string          `json:"j,omitempty"`
	Parent      string          `json:"parent,omitempty"`
	Kind        uint32          `json:"kind,omitempty"`
	Entity      json.RawMessage `json:"e,omitempty"`
}

// Importer resolves ImportOp.Parent strings that are themselves labels bound
// earlier in the same batch, then delegates entity decoding to a
// caller-supplied per-kind unmarshaler (kept distinct from Schema.Unmarshal
// because the wire JSON form and the storage body form need not match).
type Importer struct {
	DecodeJSON func(kind KindId, parent ObjId, raw json.RawMessage) (Entity, error)
}

// Import runs a batch of instructions inside one RunTxExclusive transaction.
// On any error the whole batch is rolled back (the transaction's write
// function returns the error, so nothing commits).
func (imp *Importer) Import(st *Store, ops []ImportOp) error {
	return st.RunTxExclusive(func(tx *Tx) error {
		labels := map[string]ObjId{}

		resolveParent := func(s string) (ObjId, error) {
			if id, ok := labels[s]; ok {
				return id, nil
			}
			return ParseObjId(s)
		}

		for idx, op := range ops {
			switch op.Instruction {
			case "insert":
				parent, err := resolveParent(op.Parent)
				if err != nil {
					return fmt.Errorf("import[%d]: parent: %w", idx, err)
				}
				e, err := imp.DecodeJSON(KindId(op.Kind), parent, op.Entity)
				if err != nil {
					return fmt.Errorf("import[%d]: decode: %w", idx, err)
				}
				if err := tx.InsertParentExists(e); err != nil {
					return fmt.Errorf("import[%d]: insert: %w", idx, err)
				}
				if op.Label != "" {
					labels[op.Label] = e.EntityID()
				}

			case "find":
				parent, err := resolveParent(op.Parent)
				if err != nil {
					return fmt.Errorf("import[%d]: parent: %w", idx, err)
				}
				e, err := imp.DecodeJSON(KindId(op.Kind), parent, op.Entity)
				if err != nil {
					return fmt.Errorf("import[%d]: decode: %w", idx, err)
				}
				schema, err := schemaFor(KindId(op.Kind))
				if err != nil {
					return err
				}
				if schema.KeyOf == nil {
					return fmt.Errorf("import[%d]: find requires a keyed schema", idx)
				}
				found, ok, err := tx.FindChild(parent, KindId(op.Kind), schema.KeyOf(e))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("import[%d]: find: no matching entity", idx)
				}
				if op.Label != "" {
					labels[op.Label] = found.EntityID()
				}

			case "remove":
				id, err := resolveParent(op.Parent)
				if err != nil {
					return fmt.Errorf("import[%d]: target: %w", idx, err)
				}
				if err := tx.RemoveChildren(id); err != nil {
					return fmt.Errorf("import[%d]: remove children: %w", idx, err)
				}
				if err := tx.Remove(id); err != nil {
					return fmt.Errorf("import[%d]: remove: %w", idx, err)
				}

			default:
				return fmt.Errorf("import[%d]: unknown instruction %q", idx, op.Instruction)
			}
		}
		return nil
	})
}
