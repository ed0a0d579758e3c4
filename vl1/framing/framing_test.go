package framing

import (
	"bytes"
	"testing"

	"github.com/vl1proto/vl1-go/internal/buf"
	"github.com/vl1proto/vl1-go/vl1"
)

func testSecret(t *testing.T) *SymmetricSecret {
	t.Helper()
	var agreed [64]byte
	for i := range agreed {
		agreed[i] = byte(i * 7)
	}
	s, err := DeriveSymmetricSecret(agreed)
	if err != nil {
		t.Fatalf("derive secret: %v", err)
	}
	return &s
}

func baseHeader(dest, src vl1.Address, cipher byte) PacketHeader {
	return PacketHeader{
		ID:              [8]byte{0, 0, 0, 0, 0, 0, 0, 1},
		Dest:            dest,
		Src:             src,
		FlagsCipherHops: cipher,
	}
}

func TestSalsaPolyRoundTrip(t *testing.T) {
	secret := testSecret(t)
	dest := vl1.Address{1, 2, 3, 4, 5}
	src := vl1.Address{6, 7, 8, 9, 10}

	plaintext := []byte("hello vl1 payload data, more than one block long for salsa20")
	payload := append([]byte{}, plaintext...)

	header := baseHeader(dest, src, CipherSalsa2012Poly1305)
	_, err := Encrypt(secret, &header, payload)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(payload, plaintext) {
		t.Fatalf("payload was not encrypted in place")
	}

	recovered, msgID, ok, err := Decrypt(secret, &header, payload)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !ok {
		t.Fatalf("decrypt rejected a validly encrypted packet")
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("plaintext mismatch:\n got: %x\nwant: %x", recovered, plaintext)
	}
	if msgID != 1 {
		t.Fatalf("expected message id 1, got %d", msgID)
	}
}

func TestSalsaPolyBitFlipFailsAuth(t *testing.T) {
	secret := testSecret(t)
	dest := vl1.Address{1, 2, 3, 4, 5}
	src := vl1.Address{6, 7, 8, 9, 10}
	payload := []byte("some payload bytes")

	header := baseHeader(dest, src, CipherSalsa2012Poly1305)
	ct, err := Encrypt(secret, &header, payload)
	if err != nil {
		t.Fatal(err)
	}
	ct[0] ^= 0x01

	_, _, ok, err := Decrypt(secret, &header, ct)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected authentication failure on bit-flipped ciphertext")
	}
}

func TestNoCryptOnlyAllowsHello(t *testing.T) {
	secret := testSecret(t)
	dest := vl1.Address{1, 2, 3, 4, 5}
	src := vl1.Address{6, 7, 8, 9, 10}

	header := baseHeader(dest, src, CipherNoCryptPoly1305)
	payload := []byte{MessageHello, 0xaa, 0xbb}
	ct, err := Encrypt(secret, &header, payload)
	if err != nil {
		t.Fatal(err)
	}
	_, _, ok, err := Decrypt(secret, &header, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("HELLO over no-crypt suite should authenticate")
	}

	header2 := baseHeader(dest, src, CipherNoCryptPoly1305)
	notHello := []byte{0x02, 0xaa, 0xbb}
	ct2, err := Encrypt(secret, &header2, notHello)
	if err != nil {
		t.Fatal(err)
	}
	_, _, ok2, err := Decrypt(secret, &header2, ct2)
	if err != nil {
		t.Fatal(err)
	}
	if ok2 {
		t.Fatalf("non-HELLO message over no-crypt suite must fail authentication")
	}
}

func TestAESGMACSIVRoundTrip(t *testing.T) {
	secret := testSecret(t)
	dest := vl1.Address{1, 2, 3, 4, 5}
	src := vl1.Address{6, 7, 8, 9, 10}

	header := baseHeader(dest, src, CipherAESGMACSIV)
	plaintext := []byte("aes gmac siv payload contents")
	ct, err := Encrypt(secret, &header, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	recovered, _, ok, err := Decrypt(secret, &header, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !ok {
		t.Fatalf("valid aes-gmac-siv packet rejected")
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("plaintext mismatch:\n got: %x\nwant: %x", recovered, plaintext)
	}
}

func TestAESGMACSIVHopMutationDoesNotBreakMAC(t *testing.T) {
	secret := testSecret(t)
	dest := vl1.Address{1, 2, 3, 4, 5}
	src := vl1.Address{6, 7, 8, 9, 10}

	header := baseHeader(dest, src, CipherAESGMACSIV)
	plaintext := []byte("payload unaffected by hop count")
	ct, err := Encrypt(secret, &header, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate an intermediate relay incrementing the hop count in flight.
	header.SetHops(header.Hops() + 1)

	_, _, ok, err := Decrypt(secret, &header, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("hop count mutation must not invalidate the MAC (hops are masked from AAD)")
	}
}

func TestAESGMACSIVBitFlipFailsAuth(t *testing.T) {
	secret := testSecret(t)
	dest := vl1.Address{1, 2, 3, 4, 5}
	src := vl1.Address{6, 7, 8, 9, 10}

	header := baseHeader(dest, src, CipherAESGMACSIV)
	ct, err := Encrypt(secret, &header, []byte("another payload"))
	if err != nil {
		t.Fatal(err)
	}
	ct[len(ct)-1] ^= 0x01

	_, _, ok, err := Decrypt(secret, &header, ct)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected authentication failure on bit-flipped ciphertext")
	}
}

func TestSplitFragmentsRoundsTrip(t *testing.T) {
	full := make([]byte, HeaderSize+3000)
	copy(full[0:8], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	copy(full[8:8+vl1.AddressSize], []byte{9, 9, 9, 9, 9})
	for i := HeaderSize; i < len(full); i++ {
		full[i] = byte(i)
	}

	chunks, err := SplitFragments(full, 1280)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple fragments for a 3000-byte packet at mtu 1280")
	}

	reassembled := append([]byte{}, chunks[0]...)
	for _, c := range chunks[1:] {
		fh, err := UnmarshalFragmentHeader(buf.WrapRead(c))
		if err != nil {
			t.Fatalf("unmarshal fragment header: %v", err)
		}
		if fh.Indicator != FragmentIndicator {
			t.Fatalf("expected fragment indicator byte")
		}
		reassembled = append(reassembled, c[FragmentHeaderSize:]...)
	}
	if !bytes.Equal(reassembled, full) {
		t.Fatalf("reassembled packet does not match original")
	}
}

func TestSplitFragmentsNoSplitBelowMTU(t *testing.T) {
	full := make([]byte, HeaderSize+10)
	chunks, err := SplitFragments(full, 1280)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected no split for a packet under mtu")
	}
}
