package dkim

import (
	"encoding/json"
	"time"

	"github.com/nyholt/atomicmail/internal/entitystore"
)

// KindDkimKeyRecord is the entity kind cmd/atomicmailctl persists generated
// signing keys under, so "dkimgen" and "run"/"sendmsg" share one durable
// source of truth instead of each re-reading a bare PEM file off disk.
const KindDkimKeyRecord entitystore.KindId = 3001

// DkimKeyRecord is a durable GeneratedKey: the private key plus the DNS
// publication record it was minted with, keyed on domain+selector so a
// later lookup doesn't need to re-derive the DNS name to find it.
type DkimKeyRecord struct {
	entitystore.Header

	Domain        string
	Selector      string
	Algo          KeyAlgo
	PrivateKeyPEM []byte
	DNSName       string
	DNSValue      string
	Expires       time.Time
	CreatedAt     time.Time
}

func (k *DkimKeyRecord) Kind() entitystore.KindId { return KindDkimKeyRecord }

// recordKey is the raw key bytes DkimKeyRecord is stored and looked up
// under: domain and selector joined by a separator that cannot appear in
// either (both are DNS labels, which never contain NUL).
func recordKey(domain, selector string) []byte {
	return entitystore.EncodeStringKey(domain + "\x00" + selector)
}

type dkimKeyRecordJSON struct {
	Domain        string    `json:"domain"`
	Selector      string    `json:"selector"`
	Algo          string    `json:"algo"`
	PrivateKeyPEM []byte    `json:"private_key_pem"`
	DNSName       string    `json:"dns_name"`
	DNSValue      string    `json:"dns_value"`
	Expires       time.Time `json:"expires,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func init() {
	entitystore.Register(&entitystore.Schema{
		Kind:      KindDkimKeyRecord,
		Name:      "dkim.DkimKeyRecord",
		KeyPolicy: entitystore.StrUniqueInsensitive,
		KeyOf: func(e entitystore.Entity) []byte {
			k := e.(*DkimKeyRecord)
			return recordKey(k.Domain, k.Selector)
		},
		Marshal: func(e entitystore.Entity) ([]byte, error) {
			k := e.(*DkimKeyRecord)
			return json.Marshal(dkimKeyRecordJSON{
				Domain:        k.Domain,
				Selector:      k.Selector,
				Algo:          string(k.Algo),
				PrivateKeyPEM: k.PrivateKeyPEM,
				DNSName:       k.DNSName,
				DNSValue:      k.DNSValue,
				Expires:       k.Expires,
				CreatedAt:     k.CreatedAt,
			})
		},
		Unmarshal: func(parent entitystore.ObjId, body []byte) (entitystore.Entity, error) {
			var j dkimKeyRecordJSON
			if err := json.Unmarshal(body, &j); err != nil {
				return nil, err
			}
			return &DkimKeyRecord{
				Header:        entitystore.Header{Parent: parent},
				Domain:        j.Domain,
				Selector:      j.Selector,
				Algo:          KeyAlgo(j.Algo),
				PrivateKeyPEM: j.PrivateKeyPEM,
				DNSName:       j.DNSName,
				DNSValue:      j.DNSValue,
				Expires:       j.Expires,
				CreatedAt:     j.CreatedAt,
			}, nil
		},
	})
}

// KeyStore persists GeneratedKeys under an entitystore.Store, keyed on
// domain+selector directly beneath the store root — the entitystore-backed
// replacement for reading/writing a bare key file that "dkimgen"/"run"/
// "sendmsg" share.
type KeyStore struct {
	store *entitystore.Store
}

func NewKeyStore(store *entitystore.Store) *KeyStore {
	return &KeyStore{store: store}
}

// Save persists gk, overwriting any existing record for the same
// domain+selector (key rotation is expected to replace, not accumulate).
func (s *KeyStore) Save(gk *GeneratedKey) error {
	return s.store.RunTxExclusive(func(tx *entitystore.Tx) error {
		existing, found, err := tx.FindChild(entitystore.Root, KindDkimKeyRecord, recordKey(gk.Domain, gk.Selector))
		if err != nil {
			return err
		}
		rec := &DkimKeyRecord{
			Header:        entitystore.Header{Parent: entitystore.Root},
			Domain:        gk.Domain,
			Selector:      gk.Selector,
			Algo:          gk.KeyAlgo,
			PrivateKeyPEM: gk.PrivateKeyPEM,
			DNSName:       gk.DNSName,
			DNSValue:      gk.DNSValue,
			Expires:       gk.Expires,
			CreatedAt:     time.Now(),
		}
		if found {
			if err := tx.RemoveChildren(existing.EntityID()); err != nil {
				return err
			}
			if err := tx.Remove(existing.EntityID()); err != nil {
				return err
			}
		}
		return tx.InsertParentExists(rec)
	})
}

// Lookup finds the most recently saved key for domain+selector, if any.
func (s *KeyStore) Lookup(domain, selector string) (*DkimKeyRecord, bool, error) {
	var result *DkimKeyRecord
	err := s.store.RunTxExclusive(func(tx *entitystore.Tx) error {
		e, found, err := tx.FindChild(entitystore.Root, KindDkimKeyRecord, recordKey(domain, selector))
		if err != nil || !found {
			return err
		}
		result = e.(*DkimKeyRecord)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, result != nil, nil
}
