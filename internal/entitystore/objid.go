package entitystore

import (
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// ObjId is a globally unique opaque 128-bit entity identifier.
type ObjId [16]byte

// Root is the implicit parent of every top-level category entity.
var Root ObjId

// None is the reserved "no id" sentinel, distinct from Root.
var None = ObjId{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// NewObjId draws a fresh random id, guaranteed distinct from Root and None.
func NewObjId() ObjId {
	for {
		id := ObjId(uuid.New())
		if id != Root && id != None {
			return id
		}
	}
}

// String renders the id as lower-case hex, the entity store's on-disk and
// JSON import/export form; Root and None render as "root" and "none".
func (id ObjId) String() string {
	if id == Root {
		return "root"
	}
	if id == None {
		return "none"
	}
	return hex.EncodeToString(id[:])
}

// ParseObjId parses the string form produced by String.
func ParseObjId(s string) (ObjId, error) {
	switch s {
	case "root", "":
		return Root, nil
	case "none":
		return None, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return ObjId{}, errors.New("entitystore: malformed ObjId " + s)
	}
	var id ObjId
	copy(id[:], b)
	return id, nil
}
