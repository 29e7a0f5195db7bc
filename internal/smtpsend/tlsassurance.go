package smtpsend

import (
	"crypto/sha256"
	"crypto/tls"
)

// TlsAssurance is the confidence level smtpsend assigns to a delivery's
// transport security, a total order from "no TLS was even attempted" to
// "we've pinned this exact certificate before and it matches again". There
// is no teacher precedent for trust-on-first-use specifically — maddy's
// internal/target/remote/security.go only escalates through MTA-STS and
// DANE policies — so the ladder here is designed from the delivery
// pipeline's own requirements, using the same "escalate, never silently
// downgrade" shape as security.go's mtastsPolicy/danePolicy pair.
type TlsAssurance int

const (
	// TlsNone means the connection was never TLS-protected at all.
	TlsNone TlsAssurance = iota
	// TlsUnverified means TLS was negotiated but the certificate chain was
	// not validated against anything (self-signed accepted, hostname not
	// checked).
	TlsUnverified
	// TlsDomainMatch means the certificate validated against the system
	// trust store and the hostname presented on the certificate matches the
	// MX name.
	TlsDomainMatch
	// TlsTofuOnly means no prior pin exists for this MX; the certificate
	// seen on this attempt is recorded as the trusted baseline.
	TlsTofuOnly
	// TlsTofuPinned means a prior pin exists for this MX and the
	// certificate presented on this attempt matches it exactly.
	TlsTofuPinned
)

func (a TlsAssurance) String() string {
	switch a {
	case TlsNone:
		return "none"
	case TlsUnverified:
		return "unverified"
	case TlsDomainMatch:
		return "domain-match"
	case TlsTofuOnly:
		return "tofu-only"
	case TlsTofuPinned:
		return "tofu-pinned"
	default:
		return "unknown"
	}
}

// CertPin is the persisted fingerprint of a remote MX's leaf certificate,
// recorded the first time smtpsend successfully completes a TLS handshake
// with it so subsequent deliveries can escalate from TlsDomainMatch to
// TlsTofuPinned (or flag a mismatch).
type CertPin struct {
	MXName      string
	Fingerprint [sha256.Size]byte
}

// PinStore is the minimal persistence smtpsend needs for TOFU pinning.
// cmd/atomicmailctl wires an entitystore-backed implementation
// (EntityPinStore); the package's tests leave it unset, so no pinning
// happens there.
type PinStore interface {
	Lookup(mxName string) (CertPin, bool, error)
	Save(pin CertPin) error
}

// fingerprint hashes a leaf certificate's raw DER bytes, the same value
// certificate transparency / HPKP-style pinning compares.
func fingerprint(cert *tls.Certificate) [sha256.Size]byte {
	if cert == nil || len(cert.Certificate) == 0 {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(cert.Certificate[0])
}

// assessTLS computes the TlsAssurance for a completed handshake, escalating
// to TOFU tiers using pins, never silently downgrading a failed pin match to
// a lower tier without the caller treating it as an error.
func assessTLS(state tls.ConnectionState, mxName string, pins PinStore) (TlsAssurance, error) {
	if !state.HandshakeComplete {
		return TlsNone, nil
	}
	if len(state.PeerCertificates) == 0 {
		return TlsUnverified, nil
	}

	leafCert := state.PeerCertificates[0]
	sum := sha256.Sum256(leafCert.Raw)

	assurance := TlsDomainMatch
	if state.VerifiedChains == nil {
		assurance = TlsUnverified
	}

	if pins == nil {
		return assurance, nil
	}

	pin, found, err := pins.Lookup(mxName)
	if err != nil {
		return assurance, err
	}
	if !found {
		if err := pins.Save(CertPin{MXName: mxName, Fingerprint: sum}); err != nil {
			return assurance, err
		}
		if assurance < TlsTofuOnly {
			return TlsTofuOnly, nil
		}
		return assurance, nil
	}

	if pin.Fingerprint == sum {
		return TlsTofuPinned, nil
	}

	return TlsUnverified, &pinMismatchError{MXName: mxName}
}

type pinMismatchError struct {
	MXName string
}

func (e *pinMismatchError) Error() string {
	return "smtpsend: certificate for " + e.MXName + " does not match the pinned fingerprint"
}

func (e *pinMismatchError) Temporary() bool { return false }
