package entitystore

import "fmt"

// KindId is a 32-bit tag identifying an entity's schema, the Go analogue of
// the source's per-kind field table. Kinds are registered once at package
// init time via Register, the same global-registry idiom the teacher uses
// for module.Register.
type KindId uint32

// Entity is implemented by every concrete entity kind. Concrete kinds embed
// Header (below) to get the boilerplate for free.
type Entity interface {
	EntityID() ObjId
	setEntityID(ObjId)
	ParentID() ObjId
	Kind() KindId
}

// Header is embedded by every concrete entity struct; it carries the
// store-assigned identity fields common to all kinds.
type Header struct {
	ID     ObjId
	Parent ObjId
}

func (h *Header) EntityID() ObjId       { return h.ID }
func (h *Header) setEntityID(id ObjId)  { h.ID = id }
func (h *Header) ParentID() ObjId       { return h.Parent }

// Schema describes one entity kind: its key policy and how to serialize it
// to/from bytes for storage, plus how to extract the key bytes (if any) for
// parent-scoped ordering.
type Schema struct {
	Kind      KindId
	Name      string
	KeyPolicy KeyPolicy

	// KeyOf returns the raw (not yet multi-encoded) key bytes for e, or
	// nil if KeyPolicy is NoKey.
	KeyOf func(e Entity) []byte

	// Marshal/Unmarshal (de)serialize the entity body (everything but
	// Header, which the store manages itself).
	Marshal   func(e Entity) ([]byte, error)
	Unmarshal func(parent ObjId, body []byte) (Entity, error)
}

var registry = map[KindId]*Schema{}

// Register adds a schema to the global kind registry. Called from package
// init in the package that owns the kind (mirrors module.Register).
func Register(s *Schema) {
	if _, dup := registry[s.Kind]; dup {
		panic(fmt.Sprintf("entitystore: duplicate registration for kind %d (%s)", s.Kind, s.Name))
	}
	registry[s.Kind] = s
}

func schemaFor(kind KindId) (*Schema, error) {
	s, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("entitystore: unregistered kind %d", kind)
	}
	return s, nil
}
