package internal

import (
	"testing"
)

// FuzzDecodeRefreshToken exercises refresh token decoding with arbitrary
// strings. Goal: no panics; invalid inputs should return errors cleanly.
func FuzzDecodeRefreshToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	if secret, err := NewRefreshSecret(); err == nil {
		f.Add(EncodeRefreshToken(secret))
	}

	f.Add("!!!not-base64!!!")
	f.Add("aGVsbG8=")
	f.Add("dG9vLXNob3J0")

	f.Fuzz(func(t *testing.T, input string) {
		secret, err := DecodeRefreshToken(input)
		if err != nil {
			return
		}

		// A successful decode must round-trip.
		reEncoded := EncodeRefreshToken(secret)
		decoded, err := DecodeRefreshToken(reEncoded)
		if err != nil {
			t.Fatalf("roundtrip decode failed: %v", err)
		}
		if decoded != secret {
			t.Error("roundtrip secret mismatch")
		}
	})
}
