package identity

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vl1proto/vl1-go/internal/buf"
	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1err"
)

const (
	flagHasP384  = 1 << 0
	flagHasSecret = 1 << 1
)

// marshalPublicBinary writes the compact binary encoding without any
// secret key material, regardless of whether id carries one.
func marshalPublicBinary(id *Identity) []byte {
	b := buf.NewBuffer(make([]byte, 0, 512))
	flags := byte(0)
	if id.P384 != nil {
		flags |= flagHasP384
	}
	_ = b.AppendByte(flags)
	_ = b.AppendBytes(id.Address[:])
	_ = b.AppendBytes(id.X25519Pub[:])
	_ = b.AppendBytes(id.Ed25519Pub[:])
	if id.P384 != nil {
		_ = b.AppendBytes(id.P384.ECDHPub[:])
		_ = b.AppendBytes(id.P384.ECDSAPub[:])
		_ = b.AppendBytes(id.P384.ECDSASelfSig[:])
		_ = b.AppendBytes(id.P384.Ed25519SelfSig[:])
	}
	return b.Bytes()
}

// MarshalBinary writes the compact binary encoding. includeSecret controls
// whether private key material is included (the caller must not persist or
// transmit a secret-including encoding except to local disk, per spec.md
// §6).
func MarshalBinary(id *Identity, includeSecret bool) ([]byte, error) {
	includeSecret = includeSecret && id.Secret != nil
	b := buf.NewBuffer(make([]byte, 0, 512))
	flags := byte(0)
	if id.P384 != nil {
		flags |= flagHasP384
	}
	if includeSecret {
		flags |= flagHasSecret
	}
	if err := b.AppendByte(flags); err != nil {
		return nil, err
	}
	if err := b.AppendBytes(id.Address[:]); err != nil {
		return nil, err
	}
	if err := b.AppendBytes(id.X25519Pub[:]); err != nil {
		return nil, err
	}
	if err := b.AppendBytes(id.Ed25519Pub[:]); err != nil {
		return nil, err
	}
	if includeSecret {
		if err := b.AppendBytes(id.Secret.X25519Priv[:]); err != nil {
			return nil, err
		}
		if err := b.AppendBytes(id.Secret.Ed25519Priv[:]); err != nil {
			return nil, err
		}
	}
	if id.P384 != nil {
		if err := b.AppendBytes(id.P384.ECDHPub[:]); err != nil {
			return nil, err
		}
		if err := b.AppendBytes(id.P384.ECDSAPub[:]); err != nil {
			return nil, err
		}
		if err := b.AppendBytes(id.P384.ECDSASelfSig[:]); err != nil {
			return nil, err
		}
		if err := b.AppendBytes(id.P384.Ed25519SelfSig[:]); err != nil {
			return nil, err
		}
		if includeSecret {
			if id.Secret == nil || id.Secret.P384 == nil {
				return nil, fmt.Errorf("identity: marshal: p384 block present but secret missing: %w", vl1err.InvalidData)
			}
			if err := b.AppendBytes(id.Secret.P384.ECDHPriv[:]); err != nil {
				return nil, err
			}
			if err := b.AppendBytes(id.Secret.P384.ECDSAPriv[:]); err != nil {
				return nil, err
			}
		}
	}
	return b.Bytes(), nil
}

// UnmarshalBinary parses the compact binary encoding and recomputes the
// fingerprint.
func UnmarshalBinary(data []byte) (*Identity, error) {
	return UnmarshalBinaryFrom(buf.WrapRead(data))
}

// UnmarshalBinaryFrom reads one compact binary-encoded identity starting at
// b's current read cursor, advancing it past exactly the bytes consumed.
// This lets callers decode a stream of back-to-back identities (as WHOIS
// replies carry) without an explicit length prefix, since the encoding is
// self-delimiting given its flags byte.
func UnmarshalBinaryFrom(b *buf.Buffer) (*Identity, error) {
	flags, err := b.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("identity: unmarshal: %w: %w", vl1err.InvalidFormat, err)
	}
	hasP384 := flags&flagHasP384 != 0
	hasSecret := flags&flagHasSecret != 0

	id := &Identity{}
	addrB, err := b.ReadBytes(vl1.AddressSize)
	if err != nil {
		return nil, fmt.Errorf("identity: unmarshal address: %w: %w", vl1err.InvalidFormat, err)
	}
	copy(id.Address[:], addrB)

	xPub, err := b.ReadBytes(32)
	if err != nil {
		return nil, fmt.Errorf("identity: unmarshal x25519 pub: %w: %w", vl1err.InvalidFormat, err)
	}
	copy(id.X25519Pub[:], xPub)

	edPub, err := b.ReadBytes(32)
	if err != nil {
		return nil, fmt.Errorf("identity: unmarshal ed25519 pub: %w: %w", vl1err.InvalidFormat, err)
	}
	copy(id.Ed25519Pub[:], edPub)

	if hasSecret {
		id.Secret = &Secret{}
		xPriv, err := b.ReadBytes(32)
		if err != nil {
			return nil, fmt.Errorf("identity: unmarshal x25519 priv: %w: %w", vl1err.InvalidFormat, err)
		}
		copy(id.Secret.X25519Priv[:], xPriv)
		edPriv, err := b.ReadBytes(32)
		if err != nil {
			return nil, fmt.Errorf("identity: unmarshal ed25519 priv: %w: %w", vl1err.InvalidFormat, err)
		}
		copy(id.Secret.Ed25519Priv[:], edPriv)
	}

	if hasP384 {
		p := &P384Public{}
		if err := readFixed(b, p.ECDHPub[:]); err != nil {
			return nil, err
		}
		if err := readFixed(b, p.ECDSAPub[:]); err != nil {
			return nil, err
		}
		if err := readFixed(b, p.ECDSASelfSig[:]); err != nil {
			return nil, err
		}
		if err := readFixed(b, p.Ed25519SelfSig[:]); err != nil {
			return nil, err
		}
		id.P384 = p

		if hasSecret {
			ps := &P384Secret{}
			if err := readFixed(b, ps.ECDHPriv[:]); err != nil {
				return nil, err
			}
			if err := readFixed(b, ps.ECDSAPriv[:]); err != nil {
				return nil, err
			}
			id.Secret.P384 = ps
		}
	}

	id.Fingerprint = computeFingerprint(id)
	return id, nil
}

func readFixed(b *buf.Buffer, dst []byte) error {
	raw, err := b.ReadBytes(len(dst))
	if err != nil {
		return fmt.Errorf("identity: unmarshal: %w: %w", vl1err.InvalidFormat, err)
	}
	copy(dst, raw)
	return nil
}

// MarshalSecretString renders the colon-separated text form including
// secrets: addr:0:hex(x25519_pub||ed25519_pub):hex(secret)[:2:b64url(p384_bundle):b64url(p384_secrets)]
func MarshalSecretString(id *Identity) (string, error) {
	return marshalString(id, true)
}

// MarshalPublicString renders the text form without secrets.
func MarshalPublicString(id *Identity) (string, error) {
	return marshalString(id, false)
}

func marshalString(id *Identity, includeSecret bool) (string, error) {
	includeSecret = includeSecret && id.Secret != nil
	var sb strings.Builder
	sb.WriteString(id.Address.String())
	sb.WriteString(":0:")
	sb.WriteString(hex.EncodeToString(id.X25519Pub[:]))
	sb.WriteString(hex.EncodeToString(id.Ed25519Pub[:]))
	if includeSecret {
		sb.WriteString(":")
		sb.WriteString(hex.EncodeToString(id.Secret.X25519Priv[:]))
		sb.WriteString(hex.EncodeToString(id.Secret.Ed25519Priv[:]))
	}
	if id.P384 != nil {
		bundle := make([]byte, 0, P384Size*2+P384SigSize+64)
		bundle = append(bundle, id.P384.ECDHPub[:]...)
		bundle = append(bundle, id.P384.ECDSAPub[:]...)
		bundle = append(bundle, id.P384.ECDSASelfSig[:]...)
		bundle = append(bundle, id.P384.Ed25519SelfSig[:]...)
		sb.WriteString(":2:")
		sb.WriteString(base64.RawURLEncoding.EncodeToString(bundle))
		if includeSecret && id.Secret.P384 != nil {
			secrets := make([]byte, 0, 96)
			secrets = append(secrets, id.Secret.P384.ECDHPriv[:]...)
			secrets = append(secrets, id.Secret.P384.ECDSAPriv[:]...)
			sb.WriteString(":")
			sb.WriteString(base64.RawURLEncoding.EncodeToString(secrets))
		}
	}
	return sb.String(), nil
}

// ParseString parses the colon-separated text form (legacy-only or
// hybrid, with or without secrets).
func ParseString(s string) (*Identity, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 {
		return nil, fmt.Errorf("identity: parse: too few fields in %q: %w", s, vl1err.InvalidFormat)
	}
	addr, err := vl1.ParseAddress(parts[0])
	if err != nil {
		return nil, fmt.Errorf("identity: parse address: %w", err)
	}
	if parts[1] != "0" {
		return nil, fmt.Errorf("identity: parse: expected legacy block marker '0', got %q: %w", parts[1], vl1err.InvalidFormat)
	}

	id := &Identity{Address: addr}
	legacyField := parts[2]

	switch len(legacyField) {
	case 128: // hex(x25519_pub||ed25519_pub), no secret
		raw, err := hex.DecodeString(legacyField)
		if err != nil {
			return nil, fmt.Errorf("identity: parse legacy keys: %w", vl1err.InvalidFormat)
		}
		copy(id.X25519Pub[:], raw[0:32])
		copy(id.Ed25519Pub[:], raw[32:64])
	default:
		return nil, fmt.Errorf("identity: parse: unexpected legacy field length %d: %w", len(legacyField), vl1err.InvalidFormat)
	}

	rest := parts[3:]
	if len(rest) > 0 && len(rest[0]) == 128 {
		// hex(x25519_priv||ed25519_seed): 32+32=64 bytes = 128 hex chars
		raw, err := hex.DecodeString(rest[0])
		if err != nil {
			return nil, fmt.Errorf("identity: parse legacy secret: %w", vl1err.InvalidFormat)
		}
		id.Secret = &Secret{}
		copy(id.Secret.X25519Priv[:], raw[0:32])
		copy(id.Secret.Ed25519Priv[:], raw[32:64])
		rest = rest[1:]
	}

	if len(rest) >= 2 && rest[0] == "2" {
		bundle, err := base64.RawURLEncoding.DecodeString(rest[1])
		if err != nil {
			return nil, fmt.Errorf("identity: parse p384 bundle: %w", vl1err.InvalidFormat)
		}
		wantLen := P384Size*2 + P384SigSize + 64
		if len(bundle) != wantLen {
			return nil, fmt.Errorf("identity: parse p384 bundle: want %d bytes, got %d: %w", wantLen, len(bundle), vl1err.InvalidData)
		}
		p := &P384Public{}
		off := 0
		copy(p.ECDHPub[:], bundle[off:off+P384Size])
		off += P384Size
		copy(p.ECDSAPub[:], bundle[off:off+P384Size])
		off += P384Size
		copy(p.ECDSASelfSig[:], bundle[off:off+P384SigSize])
		off += P384SigSize
		copy(p.Ed25519SelfSig[:], bundle[off:off+64])
		id.P384 = p
		rest = rest[2:]

		if len(rest) > 0 {
			secrets, err := base64.RawURLEncoding.DecodeString(rest[0])
			if err != nil {
				return nil, fmt.Errorf("identity: parse p384 secrets: %w", vl1err.InvalidFormat)
			}
			if len(secrets) != 96 {
				return nil, fmt.Errorf("identity: parse p384 secrets: want 96 bytes, got %d: %w", len(secrets), vl1err.InvalidData)
			}
			if id.Secret == nil {
				id.Secret = &Secret{}
			}
			ps := &P384Secret{}
			copy(ps.ECDHPriv[:], secrets[0:48])
			copy(ps.ECDSAPriv[:], secrets[48:96])
			id.Secret.P384 = ps
		}
	}

	id.Fingerprint = computeFingerprint(id)
	return id, nil
}
