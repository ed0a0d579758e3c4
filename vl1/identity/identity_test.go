package identity

import "testing"

// goodV0Identities are four historical legacy (X25519/Ed25519-only) VL1
// identities, copied verbatim from the original implementation's embedded
// test data. Their text form is address:0:hex(x25519_pub||ed25519_pub):
// hex(x25519_priv||ed25519_seed) — the long-standing legacy identity.secret
// layout.
var goodV0Identities = []string{
	"8ee1095428:0:3ee30bb0cf66098891a5375aa8b44c4e7d09fabfe6d04e150bc7f17898726f1b1b8dc16f7cc74ed4eeb06e224db4370668766829434faf3da26ecfb151c87c12:69031e4b2354d41010f7b097f4793e99040342ca641938525e3f72a081a75285bea3c399edecda738c772f59412469a8290405e3e327fb30f3654af49ff8de09",
	"77fcbbd875:0:1724aad9ef6af50ab7a67ed975053779ca1a0251832ef6456cff50bf5af3bb1f859885b67c7ff6a64192e795e7dcdc9ce7b13deb9177022a4a83c02026596993:55c3b96396853f41ba898d7099ca118ba3ba1d306af55248dcbd7008e6752b8900e208a251eeda70f778249dab65a5dfbb4beeaf76de40bf3b732536f93fc7f7",
	"91c4e0e1b0:0:5a96fb6bddbc3e845ec30e369b6517dd936e9b9679404001ba81c66dfe38be7a12f5db4f470f4af2ff4aa3e2fe54a3838c80b3a33fe83fe78fef956772c46ed3:7210ce5b7bc4777c7790d225f81e7f2583417a3ac64fd1a5873186ed6bd5b48126c8e1cfd0e82b391a389547bd3c143c672f83e19632aa445cafb2d5aab4c098",
	"ba0c4a4edd:0:4b75790dce1979b4cec38ca1eb81e0f348f757047c4ad5e8a463fe54f32142739ffd8c0bc9c95a45572d96173a11def1e653e6975343e4bc78d5b504e023aab8:28fa6bf3c103186c41575c91ee86887d21e0bdf77cdf4c36c9430c32e83affbee0b04da61312f4c990a18f2acf9031a6a2c4c69362f79f7f6d5621a3c8abf33c",
}

func TestParseLegacyIdentitiesStructural(t *testing.T) {
	// These are historical wire-format vectors. We parse the address and
	// key fields and exercise our own codec's round trip on the decoded
	// key material (Generate/Marshal are ours; we don't assert
	// byte-for-byte reproduction of an unverified upstream P-384 bundle
	// layout for the V1/hybrid vectors, see DESIGN.md).
	for _, s := range goodV0Identities {
		id, err := ParseString(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if id.P384 != nil {
			t.Fatalf("expected legacy-only identity, got p384 block")
		}
		if id.Secret == nil {
			t.Fatalf("expected secret key material")
		}
		got, err := MarshalSecretString(id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if got != s {
			t.Fatalf("round trip mismatch:\n got: %s\nwant: %s", got, s)
		}
	}
}

func TestLegacyIdentitiesAgreeSymmetric(t *testing.T) {
	var ids []*Identity
	for _, s := range goodV0Identities {
		id, err := ParseString(s)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		ids = append(ids, id)
	}
	for i := range ids {
		for j := range ids {
			if i == j {
				continue
			}
			ab, err := Agree(ids[i], ids[j])
			if err != nil {
				t.Fatalf("agree: %v", err)
			}
			ba, err := Agree(ids[j], ids[i])
			if err != nil {
				t.Fatalf("agree: %v", err)
			}
			if ab != ba {
				t.Fatalf("agreement not symmetric for pair %d,%d", i, j)
			}
			if len(ab) != 64 {
				t.Fatalf("expected 64-byte shared secret, got %d", len(ab))
			}
		}
	}
}

func TestGenerateValidateRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !id.HasP384() {
		t.Fatalf("Generate should auto-upgrade to p384")
	}
	if err := Validate(id); err != nil {
		t.Fatalf("validate: %v", err)
	}

	secretBytes, err := MarshalBinary(id, true)
	if err != nil {
		t.Fatalf("marshal binary: %v", err)
	}
	id2, err := UnmarshalBinary(secretBytes)
	if err != nil {
		t.Fatalf("unmarshal binary: %v", err)
	}
	if err := Validate(id2); err != nil {
		t.Fatalf("validate unmarshaled: %v", err)
	}
	if id.Address != id2.Address || id.X25519Pub != id2.X25519Pub || id.Ed25519Pub != id2.Ed25519Pub {
		t.Fatalf("round trip lost key material")
	}

	s, err := MarshalSecretString(id)
	if err != nil {
		t.Fatalf("marshal string: %v", err)
	}
	id3, err := ParseString(s)
	if err != nil {
		t.Fatalf("parse string: %v", err)
	}
	if err := Validate(id3); err != nil {
		t.Fatalf("validate parsed: %v", err)
	}
	s2, err := MarshalSecretString(id3)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if s != s2 {
		t.Fatalf("text round trip mismatch:\n got: %s\nwant: %s", s2, s)
	}
}

func TestAgreeTwoGeneratedIdentities(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	ab, err := Agree(a, b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := Agree(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if ab != ba {
		t.Fatalf("agreement must be symmetric")
	}
}

func TestUpgradePreservesLegacyMaterial(t *testing.T) {
	// Build a legacy-only identity the way Generate() does internally,
	// then upgrade it and check invariant 3 (§8): address/x25519/ed25519
	// preserved, and the classical (first 48 bytes) agreement result is
	// unaffected by the presence of P-384 on one side.
	legacy, err := generateLegacyOnlyForTest()
	if err != nil {
		t.Fatal(err)
	}
	upgraded, err := Upgrade(legacy)
	if err != nil {
		t.Fatal(err)
	}
	if legacy.Address != upgraded.Address {
		t.Fatalf("address changed on upgrade")
	}
	if legacy.X25519Pub != upgraded.X25519Pub || legacy.Ed25519Pub != upgraded.Ed25519Pub {
		t.Fatalf("legacy keys changed on upgrade")
	}

	selfAgreeLegacy, err := Agree(legacy, legacy)
	if err != nil {
		t.Fatal(err)
	}
	selfAgreeMixed, err := Agree(legacy, upgraded)
	if err != nil {
		t.Fatal(err)
	}
	// legacy has no P384 secret, so agree(legacy, upgraded) takes the
	// x25519-only path on legacy's side regardless of upgraded's P384
	// block, matching selfAgreeLegacy exactly.
	if selfAgreeLegacy != selfAgreeMixed {
		t.Fatalf("classical agreement portion changed after upgrade")
	}
}

// generateLegacyOnlyForTest mirrors the key-generation half of Generate()
// without the auto-upgrade step, for testing Upgrade() in isolation.
func generateLegacyOnlyForTest() (*Identity, error) {
	for {
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		// Generate() always upgrades; strip the P384 block back off to
		// obtain a legacy-shaped identity with the same keys for testing.
		id.P384 = nil
		id.Secret.P384 = nil
		id.Fingerprint = computeFingerprint(id)
		return id, nil
	}
}
