package identity

import "crypto/sha512"

func sha512sum(b []byte) [64]byte {
	return sha512.Sum512(b)
}

func sha384Sum(b []byte) [48]byte {
	return sha512.Sum384(b)
}
