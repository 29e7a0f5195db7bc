package xcrypto

import (
	"crypto"
	"crypto/elliptic"
	"testing"
)

func TestRNGFillsBuffer(t *testing.T) {
	buf := make([]byte, 32)
	if err := RNG(buf); err != nil {
		t.Fatalf("RNG: %v", err)
	}
	allZero := true
	for _, b := range buf {
		if b != 0 {
			allZero = false
		}
	}
	if allZero {
		t.Fatal("RNG produced an all-zero buffer (statistically impossible)")
	}
}

func TestUniformUintBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		v, err := UniformUint(7)
		if err != nil {
			t.Fatalf("UniformUint: %v", err)
		}
		if v >= 7 {
			t.Fatalf("UniformUint(7) = %d, out of range", v)
		}
	}
}

func TestRSASignRoundTrip(t *testing.T) {
	key, err := GenerateRSA(RSA2048)
	if err != nil {
		t.Fatalf("GenerateRSA: %v", err)
	}
	h, _ := NewHash(SHA256)
	h.Write([]byte("hello dkim"))
	digest := h.Sum(nil)

	sig, err := SignPKCS1v15(key, crypto.SHA256, digest)
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}
	if err := VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest, sig); err != nil {
		t.Fatalf("VerifyPKCS1v15: %v", err)
	}
}

func TestPEMRoundTrip(t *testing.T) {
	key, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	blob, err := ExportPKCS8PEM(key)
	if err != nil {
		t.Fatalf("ExportPKCS8PEM: %v", err)
	}
	imported, err := ImportPrivateKeyPEM(blob)
	if err != nil {
		t.Fatalf("ImportPrivateKeyPEM: %v", err)
	}
	if !key.Public().(interface{ Equal(crypto.PublicKey) bool }).Equal(imported.Public()) {
		t.Fatal("round-tripped public key does not match original")
	}
}

func TestCalculateY(t *testing.T) {
	kp, err := GenerateECDH()
	if err != nil {
		t.Fatalf("GenerateECDH: %v", err)
	}
	x := NewMpUInt(kp.Priv.PublicKey.X.Bytes())
	ySign := uint(kp.Priv.PublicKey.Y.Bit(0))

	y, err := CalculateY(elliptic.P256(), x, ySign)
	if err != nil {
		t.Fatalf("CalculateY: %v", err)
	}
	if string(y.Bytes()) != string(kp.Priv.PublicKey.Y.Bytes()) {
		t.Fatalf("recovered Y does not match actual Y")
	}
}

func TestECDHSharedSecretAgrees(t *testing.T) {
	a, err := GenerateECDH()
	if err != nil {
		t.Fatalf("GenerateECDH a: %v", err)
	}
	b, err := GenerateECDH()
	if err != nil {
		t.Fatalf("GenerateECDH b: %v", err)
	}

	aSecret, err := a.SharedSecret(NewMpUInt(b.Priv.PublicKey.X.Bytes()), NewMpUInt(b.Priv.PublicKey.Y.Bytes()))
	if err != nil {
		t.Fatalf("a.SharedSecret: %v", err)
	}
	bSecret, err := b.SharedSecret(NewMpUInt(a.Priv.PublicKey.X.Bytes()), NewMpUInt(a.Priv.PublicKey.Y.Bytes()))
	if err != nil {
		t.Fatalf("b.SharedSecret: %v", err)
	}
	if string(aSecret) != string(bSecret) {
		t.Fatal("ECDH shared secrets disagree")
	}
}
