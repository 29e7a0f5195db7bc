package smtpsend

import (
	"encoding/json"

	"github.com/nyholt/atomicmail/internal/entitystore"
)

// KindCertPinRecord is the entity kind EntityPinStore persists TOFU
// fingerprints under, giving PinStore an implementation cmd/atomicmailctl
// can wire into a running Sender.
const KindCertPinRecord entitystore.KindId = 3101

// CertPinRecord is the durable form of CertPin, keyed on the MX name so a
// later handshake's Lookup is a single FindChild.
type CertPinRecord struct {
	entitystore.Header

	MXName      string
	Fingerprint [32]byte
}

func (r *CertPinRecord) Kind() entitystore.KindId { return KindCertPinRecord }

type certPinRecordJSON struct {
	MXName      string `json:"mx_name"`
	Fingerprint []byte `json:"fingerprint"`
}

func init() {
	entitystore.Register(&entitystore.Schema{
		Kind:      KindCertPinRecord,
		Name:      "smtpsend.CertPinRecord",
		KeyPolicy: entitystore.StrUniqueInsensitive,
		KeyOf: func(e entitystore.Entity) []byte {
			return entitystore.EncodeStringKey(e.(*CertPinRecord).MXName)
		},
		Marshal: func(e entitystore.Entity) ([]byte, error) {
			r := e.(*CertPinRecord)
			return json.Marshal(certPinRecordJSON{
				MXName:      r.MXName,
				Fingerprint: r.Fingerprint[:],
			})
		},
		Unmarshal: func(parent entitystore.ObjId, body []byte) (entitystore.Entity, error) {
			var j certPinRecordJSON
			if err := json.Unmarshal(body, &j); err != nil {
				return nil, err
			}
			rec := &CertPinRecord{Header: entitystore.Header{Parent: parent}, MXName: j.MXName}
			copy(rec.Fingerprint[:], j.Fingerprint)
			return rec, nil
		},
	})
}

// EntityPinStore implements PinStore atop an entitystore.Store; it is what
// cmd/atomicmailctl wires into Sender.Config.Pins, and the only PinStore
// implementation in this repository (the send.go tests leave Pins unset).
type EntityPinStore struct {
	store *entitystore.Store
}

func NewEntityPinStore(store *entitystore.Store) *EntityPinStore {
	return &EntityPinStore{store: store}
}

var _ PinStore = (*EntityPinStore)(nil)

func (s *EntityPinStore) Lookup(mxName string) (CertPin, bool, error) {
	var pin CertPin
	found := false
	err := s.store.RunTxExclusive(func(tx *entitystore.Tx) error {
		e, ok, err := tx.FindChild(entitystore.Root, KindCertPinRecord, entitystore.EncodeStringKey(mxName))
		if err != nil || !ok {
			return err
		}
		rec := e.(*CertPinRecord)
		pin = CertPin{MXName: rec.MXName, Fingerprint: rec.Fingerprint}
		found = true
		return nil
	})
	if err != nil {
		return CertPin{}, false, err
	}
	return pin, found, nil
}

func (s *EntityPinStore) Save(pin CertPin) error {
	return s.store.RunTxExclusive(func(tx *entitystore.Tx) error {
		existing, found, err := tx.FindChild(entitystore.Root, KindCertPinRecord, entitystore.EncodeStringKey(pin.MXName))
		if err != nil {
			return err
		}
		rec := &CertPinRecord{
			Header:      entitystore.Header{Parent: entitystore.Root},
			MXName:      pin.MXName,
			Fingerprint: pin.Fingerprint,
		}
		if found {
			if err := tx.Remove(existing.EntityID()); err != nil {
				return err
			}
		}
		return tx.InsertParentExists(rec)
	})
}
