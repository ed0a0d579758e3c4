package identity

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"
)

func p384Curve() elliptic.Curve { return elliptic.P384() }

// marshalP384Point encodes an uncompressed P-384 point as 0x04 || X(48) || Y(48).
func marshalP384Point(x, y *big.Int) [P384Size]byte {
	var out [P384Size]byte
	out[0] = 0x04
	x.FillBytes(out[1:49])
	y.FillBytes(out[49:97])
	return out
}

func unmarshalP384Point(b [P384Size]byte) (x, y *big.Int, err error) {
	if b[0] != 0x04 {
		return nil, nil, fmt.Errorf("identity: p384 point: bad prefix byte %d", b[0])
	}
	x = new(big.Int).SetBytes(b[1:49])
	y = new(big.Int).SetBytes(b[49:97])
	if !p384Curve().IsOnCurve(x, y) {
		return nil, nil, fmt.Errorf("identity: p384 point: not on curve")
	}
	return x, y, nil
}

// generateP384ECDH generates a P-384 ECDH keypair using crypto/ecdh.
func generateP384ECDH() (pub [P384Size]byte, priv [48]byte, err error) {
	key, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return pub, priv, err
	}
	pubBytes := key.PublicKey().Bytes() // uncompressed, 97 bytes
	if len(pubBytes) != P384Size {
		return pub, priv, fmt.Errorf("identity: unexpected ecdh pub length %d", len(pubBytes))
	}
	copy(pub[:], pubBytes)
	privBytes := key.Bytes()
	copy(priv[48-len(privBytes):], privBytes)
	return pub, priv, nil
}

// generateP384ECDSA generates a P-384 ECDSA keypair.
func generateP384ECDSA() (pub [P384Size]byte, priv [48]byte, err error) {
	key, err := ecdsa.GenerateKey(p384Curve(), rand.Reader)
	if err != nil {
		return pub, priv, err
	}
	pub = marshalP384Point(key.X, key.Y)
	key.D.FillBytes(priv[:])
	return pub, priv, nil
}

// p384ECDHAgree performs ECDH between our private scalar and their public point.
func p384ECDHAgree(ourPriv [48]byte, theirPub [P384Size]byte) ([]byte, error) {
	priv, err := ecdh.P384().NewPrivateKey(ourPriv[:])
	if err != nil {
		return nil, fmt.Errorf("identity: p384 ecdh private key: %w", err)
	}
	pub, err := ecdh.P384().NewPublicKey(theirPub[:])
	if err != nil {
		return nil, fmt.Errorf("identity: p384 ecdh public key: %w", err)
	}
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("identity: p384 ecdh: %w", err)
	}
	return shared, nil
}

// p384ECDSASign signs digest with a raw (r||s) 96-byte encoding.
func p384ECDSASign(priv [48]byte, digest []byte) ([P384SigSize]byte, error) {
	var out [P384SigSize]byte
	d := new(big.Int).SetBytes(priv[:])
	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: p384Curve()},
		D:         d,
	}
	key.PublicKey.X, key.PublicKey.Y = p384Curve().ScalarBaseMult(priv[:])
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return out, err
	}
	r.FillBytes(out[0:48])
	s.FillBytes(out[48:96])
	return out, nil
}

// p384ECDSAVerify verifies a raw (r||s) 96-byte signature.
func p384ECDSAVerify(pub [P384Size]byte, digest []byte, sig [P384SigSize]byte) bool {
	x, y, err := unmarshalP384Point(pub)
	if err != nil {
		return false
	}
	r := new(big.Int).SetBytes(sig[0:48])
	s := new(big.Int).SetBytes(sig[48:96])
	key := &ecdsa.PublicKey{Curve: p384Curve(), X: x, Y: y}
	return ecdsa.Verify(key, digest, r, s)
}
