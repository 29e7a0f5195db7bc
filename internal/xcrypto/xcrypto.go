// Package xcrypto is the narrow crypto surface the send pipeline and DKIM
// signer need: a CSPRNG, streaming hashes, RSA sign/verify with PEM/PKCS#8
// import-export, and ECDH over P-256. It wraps the standard library's
// crypto/* packages directly rather than adopting a third-party crypto
// library, matching the teacher's own choice in modify/dkim/keys.go
// (crypto/rsa, crypto/ecdsa, crypto/ed25519, crypto/x509 used directly, no
// golang.org/x/crypto primitive for anything asymmetric).
package xcrypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/md5"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"hash"
	"io"
	"math/big"
)

// RNG fills buf with cryptographically secure random bytes.
func RNG(buf []byte) error {
	_, err := io.ReadFull(rand.Reader, buf)
	return err
}

// UniformUint returns a uniformly distributed value in [0, n) using
// rejection sampling over crypto/rand, avoiding the modulo bias a plain
// `RNG() % n` would introduce.
func UniformUint(n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("xcrypto: UniformUint: n must be positive")
	}
	v, err := rand.Int(rand.Reader, new(big.Int).SetUint64(n))
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// HashAlgo identifies a supported streaming digest.
type HashAlgo int

const (
	SHA1 HashAlgo = iota
	SHA256
	MD5
)

// NewHash returns a fresh hash.Hash for algo. MD5/SHA1 are kept only because
// DKIM (RFC 6376) still permits rsa-sha1 signatures in the wild; neither is
// used for anything where collision resistance matters here.
func NewHash(algo HashAlgo) (hash.Hash, error) {
	switch algo {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case MD5:
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("xcrypto: unknown hash algorithm %d", algo)
	}
}

// RSAKeySize is the modulus size, in bits, for key generation.
type RSAKeySize int

const (
	RSA2048 RSAKeySize = 2048
	RSA4096 RSAKeySize = 4096
)

// GenerateRSA generates a new RSA signing key of the given size, precomputed
// for signing performance the same way keys.go's loadOrGenerateKey does
// after parsing a key off disk.
func GenerateRSA(size RSAKeySize) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, int(size))
	if err != nil {
		return nil, err
	}
	key.Precompute()
	return key, nil
}

// GenerateEd25519 generates a new Ed25519 signing key.
func GenerateEd25519() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
}

// SignPKCS1v15 signs a precomputed digest with an RSA private key using
// PKCS#1 v1.5 padding, the scheme RFC 6376 mandates for rsa-sha256/rsa-sha1.
func SignPKCS1v15(key *rsa.PrivateKey, h crypto.Hash, digest []byte) ([]byte, error) {
	return rsa.SignPKCS1v15(rand.Reader, key, h, digest)
}

// VerifyPKCS1v15 verifies a PKCS#1 v1.5 signature against a public key.
func VerifyPKCS1v15(pub *rsa.PublicKey, h crypto.Hash, digest, sig []byte) error {
	return rsa.VerifyPKCS1v15(pub, h, digest, sig)
}

// ExportPKCS8PEM encodes signer as a PEM "PRIVATE KEY" block (PKCS#8), the
// format keys.go's generateAndWrite writes to disk for both RSA and
// Ed25519 keys.
func ExportPKCS8PEM(signer crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ImportPrivateKeyPEM parses a PEM-encoded private key, accepting the three
// forms keys.go's loadOrGenerateKey recognizes: PKCS#8 ("PRIVATE KEY"),
// PKCS#1 ("RSA PRIVATE KEY") and SEC1 ("EC PRIVATE KEY", rejected below since
// DKIM signing here only supports RSA/Ed25519).
func ImportPrivateKeyPEM(pemBlob []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBlob)
	if block == nil {
		return nil, fmt.Errorf("xcrypto: invalid PEM block")
	}

	var key interface{}
	var err error
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return nil, fmt.Errorf("xcrypto: ECDSA signing keys are not supported")
	default:
		return nil, fmt.Errorf("xcrypto: unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, err
	}

	switch key := key.(type) {
	case *rsa.PrivateKey:
		if err := key.Validate(); err != nil {
			return nil, err
		}
		key.Precompute()
		return key, nil
	case ed25519.PrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("xcrypto: unsupported key type %T", key)
	}
}

// ExportPublicKeyRaw returns the DKIM TXT-record "p=" payload for signer's
// public half: the raw Ed25519 key, or the DER PKIX encoding for RSA.
func ExportPublicKeyRaw(signer crypto.Signer) ([]byte, error) {
	pub := signer.Public()
	switch pub := pub.(type) {
	case *rsa.PublicKey:
		return x509.MarshalPKIXPublicKey(pub)
	case ed25519.PublicKey:
		return []byte(pub), nil
	default:
		return nil, fmt.Errorf("xcrypto: unsupported public key type %T", pub)
	}
}

// MpUInt is an arbitrary-precision unsigned integer, the Go rendering of the
// source's multi-precision integer type used for ECDH point arithmetic. It
// wraps math/big.Int rather than hand-rolling bignum arithmetic.
type MpUInt struct {
	v *big.Int
}

// NewMpUInt wraps a big-endian byte string as an MpUInt.
func NewMpUInt(b []byte) MpUInt { return MpUInt{v: new(big.Int).SetBytes(b)} }

// Bytes returns the big-endian encoding of m.
func (m MpUInt) Bytes() []byte { return m.v.Bytes() }

// CalculateY recovers the Y coordinate of a P-256 point from its X coordinate
// and a sign bit, i.e. decompresses a compressed EC point: solves
// y^2 = x^3 - 3x + b (mod p) and picks the root matching ySign's parity.
func CalculateY(curve elliptic.Curve, x MpUInt, ySign uint) (MpUInt, error) {
	params := curve.Params()
	p := params.P

	xCubed := new(big.Int).Exp(x.v, big.NewInt(3), p)
	threeX := new(big.Int).Mul(x.v, big.NewInt(3))
	rhs := new(big.Int).Sub(xCubed, threeX)
	rhs.Add(rhs, params.B)
	rhs.Mod(rhs, p)

	// p ≡ 3 (mod 4) for P-256, so the square root is rhs^((p+1)/4) mod p.
	exp := new(big.Int).Add(p, big.NewInt(1))
	exp.Rsh(exp, 2)
	y := new(big.Int).Exp(rhs, exp, p)

	if y.Bit(0) != ySign&1 {
		y.Sub(p, y)
	}

	check := new(big.Int).Exp(y, big.NewInt(2), p)
	if check.Cmp(rhs) != 0 {
		return MpUInt{}, fmt.Errorf("xcrypto: CalculateY: x is not on curve")
	}
	return MpUInt{v: y}, nil
}

// ECDHKeyPair is a P-256 ephemeral key pair for Diffie-Hellman exchange.
type ECDHKeyPair struct {
	Priv *ecdsa.PrivateKey
}

// GenerateECDH generates a new P-256 key pair.
func GenerateECDH() (*ECDHKeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ECDHKeyPair{Priv: priv}, nil
}

// PublicBlob exports the public key as an uncompressed SEC1 point
// (0x04 || X || Y), the wire form the protocol's public key blob uses.
func (kp *ECDHKeyPair) PublicBlob() []byte {
	return elliptic.Marshal(elliptic.P256(), kp.Priv.PublicKey.X, kp.Priv.PublicKey.Y)
}

// SharedSecret computes the X coordinate of peerPub*priv, the raw ECDH
// shared secret.
func (kp *ECDHKeyPair) SharedSecret(peerX, peerY MpUInt) ([]byte, error) {
	x, _ := elliptic.P256().ScalarMult(peerX.v, peerY.v, kp.Priv.D.Bytes())
	if x == nil {
		return nil, fmt.Errorf("xcrypto: ECDH: peer point not on curve")
	}
	return x.Bytes(), nil
}
