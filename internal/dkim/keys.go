package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/nyholt/atomicmail/internal/xcrypto"
)

// KeyAlgo names a DKIM key-generation algorithm, matching the newkey_algo
// enum internal/modify/dkim/keys.go accepts ("rsa4096", "rsa2048",
// "ed25519").
type KeyAlgo string

const (
	RSA4096 KeyAlgo = "rsa4096"
	RSA2048 KeyAlgo = "rsa2048"
	Ed25519 KeyAlgo = "ed25519"
)

// dkimAlgoName is the "k=" tag value a given KeyAlgo publishes — RSA key
// sizes share the same DKIM key type.
func (a KeyAlgo) dkimAlgoName() string {
	switch a {
	case RSA4096, RSA2048:
		return "rsa"
	case Ed25519:
		return "ed25519"
	default:
		return string(a)
	}
}

// GeneratedKey is a freshly minted signing key plus the material needed to
// publish and persist it: the DNS TXT record value, and the PEM-encoded
// private key.
type GeneratedKey struct {
	Domain        string
	Selector      string
	KeyAlgo       KeyAlgo
	Signer        crypto.Signer
	PrivateKeyPEM []byte
	DNSName       string // "<selector>._domainkey.<domain>"
	DNSValue      string // "v=DKIM1; k=...; p=..."
	Expires       time.Time
}

// GenerateKey creates a new signing key of the given algorithm and builds
// its DNS TXT publication record, mirroring
// internal/modify/dkim/keys.go's generateAndWrite/keyToJSON but backed by
// internal/xcrypto instead of calling crypto/rsa and crypto/ed25519
// directly.
func GenerateKey(domain, selector string, algo KeyAlgo, expiry time.Duration) (*GeneratedKey, error) {
	var signer crypto.Signer
	var err error

	switch algo {
	case RSA4096:
		signer, err = xcrypto.GenerateRSA(xcrypto.RSA4096)
	case RSA2048:
		signer, err = xcrypto.GenerateRSA(xcrypto.RSA2048)
	case Ed25519:
		signer, err = xcrypto.GenerateEd25519()
	default:
		return nil, fmt.Errorf("dkim: unknown key algorithm %q", algo)
	}
	if err != nil {
		return nil, fmt.Errorf("dkim: generate %s key: %w", algo, err)
	}

	pemBlob, err := xcrypto.ExportPKCS8PEM(signer)
	if err != nil {
		return nil, fmt.Errorf("dkim: export key: %w", err)
	}

	pubRaw, err := xcrypto.ExportPublicKeyRaw(signer)
	if err != nil {
		return nil, fmt.Errorf("dkim: export public key: %w", err)
	}

	gk := &GeneratedKey{
		Domain:        domain,
		Selector:      selector,
		KeyAlgo:       algo,
		Signer:        signer,
		PrivateKeyPEM: pemBlob,
		DNSName:       selector + "._domainkey." + domain,
		DNSValue:      fmt.Sprintf("v=DKIM1; k=%s; p=%s", algo.dkimAlgoName(), base64.StdEncoding.EncodeToString(pubRaw)),
	}
	if expiry != 0 {
		gk.Expires = time.Now().Add(expiry)
	}
	return gk, nil
}

// LoadKey parses a PEM-encoded private key previously produced by
// GenerateKey (or compatible external tooling) back into a usable signer.
func LoadKey(pemBlob []byte) (crypto.Signer, error) {
	signer, err := xcrypto.ImportPrivateKeyPEM(pemBlob)
	if err != nil {
		return nil, fmt.Errorf("dkim: load key: %w", err)
	}
	return signer, nil
}

// PublicDNSValue derives just the "v=DKIM1; k=...; p=..." TXT record value
// for an already-loaded signer, with no domain or selector required — unlike
// GenerateKey's DNSValue, which is only available at generation time because
// GeneratedKey bundles the domain/selector it was minted for. dkimpub needs
// this form: given nothing but a bare private-key file, derive the portion
// that would go in DNS.
func PublicDNSValue(signer crypto.Signer) (string, error) {
	pubRaw, err := xcrypto.ExportPublicKeyRaw(signer)
	if err != nil {
		return "", fmt.Errorf("dkim: export public key: %w", err)
	}

	var algoName string
	switch signer.Public().(type) {
	case *rsa.PublicKey:
		algoName = "rsa"
	case ed25519.PublicKey:
		algoName = "ed25519"
	default:
		return "", fmt.Errorf("dkim: unsupported signer type %T", signer)
	}

	return fmt.Sprintf("v=DKIM1; k=%s; p=%s", algoName, base64.StdEncoding.EncodeToString(pubRaw)), nil
}
