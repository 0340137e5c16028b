package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

func TestSecureRandom(t *testing.T) {
	buf1 := make([]byte, 32)
	buf2 := make([]byte, 32)

	if err := SecureRandom(buf1); err != nil {
		t.Fatalf("SecureRandom failed: %v", err)
	}
	if err := SecureRandom(buf2); err != nil {
		t.Fatalf("SecureRandom failed: %v", err)
	}

	if bytes.Equal(buf1, buf2) {
		t.Error("two SecureRandom reads produced identical output")
	}
}

func TestSecureRandomBytes(t *testing.T) {
	for _, n := range []int{0, 1, 16, 32, 64, 1024} {
		b, err := SecureRandomBytes(n)
		if err != nil {
			t.Fatalf("SecureRandomBytes(%d) failed: %v", n, err)
		}
		if len(b) != n {
			t.Errorf("SecureRandomBytes(%d) returned %d bytes", n, len(b))
		}
	}
}

func TestMustSecureRandomBytes(t *testing.T) {
	b := MustSecureRandomBytes(32)
	if len(b) != 32 {
		t.Errorf("MustSecureRandomBytes(32) returned %d bytes", len(b))
	}
}

func TestConstantTimeCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want bool
	}{
		{"equal", []byte{1, 2, 3}, []byte{1, 2, 3}, true},
		{"different content", []byte{1, 2, 3}, []byte{1, 2, 4}, false},
		{"different length", []byte{1, 2, 3}, []byte{1, 2}, false},
		{"both empty", []byte{}, []byte{}, true},
		{"one empty", []byte{1}, []byte{}, false},
		{"both nil", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConstantTimeCompare(tt.a, tt.b); got != tt.want {
				t.Errorf("ConstantTimeCompare(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	Zeroize(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not zeroed: %d", i, v)
		}
	}
}

func TestZeroizeMultiple(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5, 6}
	ZeroizeMultiple(a, b, nil)
	for i, v := range append(a, b...) {
		if v != 0 {
			t.Errorf("byte %d not zeroed: %d", i, v)
		}
	}
}

func TestBitSourceDeterministic(t *testing.T) {
	// First two bytes 0xA5 (10100101) and 0x01; bits come out LSB-first.
	seed := make([]byte, bitBufferSize)
	seed[0] = 0xA5
	seed[1] = 0x01

	src := NewBitSourceFrom(bytes.NewReader(seed))

	want := []uint8{1, 0, 1, 0, 0, 1, 0, 1, 1, 0, 0, 0, 0, 0, 0, 0}
	got, err := src.Bits(len(want))
	if err != nil {
		t.Fatalf("Bits failed: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bit %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBitSourceExhaustion(t *testing.T) {
	seed := make([]byte, bitBufferSize)
	src := NewBitSourceFrom(bytes.NewReader(seed))

	// One full buffer of bits is available.
	if _, err := src.Bits(bitBufferSize * 8); err != nil {
		t.Fatalf("Bits within buffer failed: %v", err)
	}

	// The next bit needs a refill the reader cannot satisfy.
	_, err := src.Bit()
	if err == nil {
		t.Fatal("expected error after reader exhaustion")
	}

	var cryptoErr *qerrors.CryptoError
	if !errors.As(err, &cryptoErr) {
		t.Fatalf("error is not a CryptoError: %v", err)
	}
	if cryptoErr.Op != "BitSource" {
		t.Errorf("Op = %q, want %q", cryptoErr.Op, "BitSource")
	}
}

func TestBitSourceSystem(t *testing.T) {
	src := NewBitSource()

	bits, err := src.Bits(1000)
	if err != nil {
		t.Fatalf("Bits failed: %v", err)
	}
	if len(bits) != 1000 {
		t.Fatalf("got %d bits, want 1000", len(bits))
	}

	ones := 0
	for i, b := range bits {
		if b != 0 && b != 1 {
			t.Fatalf("bit %d = %d, want 0 or 1", i, b)
		}
		if b == 1 {
			ones++
		}
	}

	// 1000 fair coin flips land outside [300, 700] with probability < 2^-80.
	if ones < 300 || ones > 700 {
		t.Errorf("ones = %d out of 1000, distribution looks broken", ones)
	}
}

func TestDeriveKey(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		k1, err := DeriveKey("test-domain", []byte("input"), 32)
		if err != nil {
			t.Fatalf("DeriveKey failed: %v", err)
		}
		k2, err := DeriveKey("test-domain", []byte("input"), 32)
		if err != nil {
			t.Fatalf("DeriveKey failed: %v", err)
		}
		if !bytes.Equal(k1, k2) {
			t.Error("same inputs produced different keys")
		}
	})

	t.Run("DomainSeparation", func(t *testing.T) {
		k1, _ := DeriveKey("domain-a", []byte("input"), 32)
		k2, _ := DeriveKey("domain-b", []byte("input"), 32)
		if bytes.Equal(k1, k2) {
			t.Error("different domains produced identical keys")
		}
	})

	t.Run("InputSeparation", func(t *testing.T) {
		k1, _ := DeriveKey("domain", []byte("input-a"), 32)
		k2, _ := DeriveKey("domain", []byte("input-b"), 32)
		if bytes.Equal(k1, k2) {
			t.Error("different inputs produced identical keys")
		}
	})

	t.Run("OutputLength", func(t *testing.T) {
		for _, n := range []int{1, 12, 16, 32, 64, 128} {
			k, err := DeriveKey("domain", []byte("input"), n)
			if err != nil {
				t.Fatalf("DeriveKey(%d) failed: %v", n, err)
			}
			if len(k) != n {
				t.Errorf("DeriveKey(%d) returned %d bytes", n, len(k))
			}
		}
	})

	t.Run("InvalidLength", func(t *testing.T) {
		for _, n := range []int{0, -1, 1<<20 + 1} {
			if _, err := DeriveKey("domain", []byte("input"), n); err == nil {
				t.Errorf("DeriveKey(%d) succeeded, want error", n)
			}
		}
	})
}

func TestDeriveKeyMultiple(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		inputs := [][]byte{[]byte("one"), []byte("two")}
		k1, err := DeriveKeyMultiple("domain", inputs, 32)
		if err != nil {
			t.Fatalf("DeriveKeyMultiple failed: %v", err)
		}
		k2, _ := DeriveKeyMultiple("domain", inputs, 32)
		if !bytes.Equal(k1, k2) {
			t.Error("same inputs produced different keys")
		}
	})

	t.Run("SplitResistance", func(t *testing.T) {
		// {12, 3} and {1, 23} concatenate identically but must derive
		// different keys because each input is length-prefixed.
		k1, _ := DeriveKeyMultiple("domain", [][]byte{{1, 2}, {3}}, 32)
		k2, _ := DeriveKeyMultiple("domain", [][]byte{{1}, {2, 3}}, 32)
		if bytes.Equal(k1, k2) {
			t.Error("differently split inputs produced identical keys")
		}
	})

	t.Run("CountResistance", func(t *testing.T) {
		k1, _ := DeriveKeyMultiple("domain", [][]byte{{1, 2, 3}}, 32)
		k2, _ := DeriveKey("domain", []byte{1, 2, 3}, 32)
		if bytes.Equal(k1, k2) {
			t.Error("single-input multiple derivation collided with plain derivation")
		}
	})
}

func TestDeriveNonce(t *testing.T) {
	n1, err := DeriveNonce(0, 0x42)
	if err != nil {
		t.Fatalf("DeriveNonce failed: %v", err)
	}
	if len(n1) != constants.AESNonceSize {
		t.Fatalf("nonce length = %d, want %d", len(n1), constants.AESNonceSize)
	}

	n1again, _ := DeriveNonce(0, 0x42)
	if !bytes.Equal(n1, n1again) {
		t.Error("same counter and random byte produced different nonces")
	}

	n2, _ := DeriveNonce(1, 0x42)
	if bytes.Equal(n1, n2) {
		t.Error("different counters produced identical nonces")
	}

	n3, _ := DeriveNonce(0, 0x43)
	if bytes.Equal(n1, n3) {
		t.Error("different random bytes produced identical nonces")
	}
}

func TestConfirmationHash(t *testing.T) {
	key := MustSecureRandomBytes(constants.SessionKeySize)

	h1, err := ConfirmationHash(key)
	if err != nil {
		t.Fatalf("ConfirmationHash failed: %v", err)
	}
	if len(h1) != constants.ConfirmHashSize {
		t.Fatalf("hash length = %d, want %d", len(h1), constants.ConfirmHashSize)
	}

	// Only the first ConfirmInputSize bytes feed the hash.
	altered := make([]byte, len(key))
	copy(altered, key)
	altered[constants.ConfirmInputSize] ^= 0xFF
	h2, _ := ConfirmationHash(altered)
	if !bytes.Equal(h1, h2) {
		t.Error("bytes past the confirmation prefix changed the hash")
	}

	// Changing a prefix byte must change the hash.
	altered[0] ^= 0xFF
	h3, _ := ConfirmationHash(altered)
	if bytes.Equal(h1, h3) {
		t.Error("prefix change did not change the hash")
	}

	if _, err := ConfirmationHash(key[:constants.ConfirmInputSize-1]); err == nil {
		t.Error("short candidate accepted")
	}
}

func TestAmplify(t *testing.T) {
	packed := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}

	k1, err := Amplify(packed)
	if err != nil {
		t.Fatalf("Amplify failed: %v", err)
	}
	if len(k1) != constants.AmplifiedBits/8 {
		t.Fatalf("amplified length = %d, want %d", len(k1), constants.AmplifiedBits/8)
	}

	k2, _ := Amplify(packed)
	if !bytes.Equal(k1, k2) {
		t.Error("same input produced different amplified keys")
	}

	packed[0] ^= 0x01
	k3, _ := Amplify(packed)
	if bytes.Equal(k1, k3) {
		t.Error("different inputs produced identical amplified keys")
	}
}

func TestAEAD(t *testing.T) {
	suites := []constants.CipherSuite{
		constants.CipherSuiteAES256GCM,
		constants.CipherSuiteChaCha20Poly1305,
	}

	for _, suite := range suites {
		t.Run(suite.String(), func(t *testing.T) {
			key := MustSecureRandomBytes(constants.AESKeySize)
			aead, err := NewAEAD(suite, key)
			if err != nil {
				t.Fatalf("NewAEAD failed: %v", err)
			}

			nonce := MustSecureRandomBytes(constants.AESNonceSize)
			plaintext := []byte("attack at dawn")
			aad := []byte("header")

			ciphertext, err := aead.SealWithNonce(nonce, plaintext, aad)
			if err != nil {
				t.Fatalf("SealWithNonce failed: %v", err)
			}
			if len(ciphertext) != len(plaintext)+aead.Overhead() {
				t.Errorf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+aead.Overhead())
			}

			decrypted, err := aead.OpenWithNonce(nonce, ciphertext, aad)
			if err != nil {
				t.Fatalf("OpenWithNonce failed: %v", err)
			}
			if !bytes.Equal(decrypted, plaintext) {
				t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
			}

			// Tampered ciphertext must fail authentication.
			tampered := make([]byte, len(ciphertext))
			copy(tampered, ciphertext)
			tampered[0] ^= 0x01
			if _, err := aead.OpenWithNonce(nonce, tampered, aad); !errors.Is(err, qerrors.ErrAuthenticationFailed) {
				t.Errorf("tampered open error = %v, want ErrAuthenticationFailed", err)
			}

			// Wrong additional data must fail authentication.
			if _, err := aead.OpenWithNonce(nonce, ciphertext, []byte("other")); !errors.Is(err, qerrors.ErrAuthenticationFailed) {
				t.Errorf("wrong-aad open error = %v, want ErrAuthenticationFailed", err)
			}

			// Wrong nonce must fail authentication.
			otherNonce := MustSecureRandomBytes(constants.AESNonceSize)
			if _, err := aead.OpenWithNonce(otherNonce, ciphertext, aad); !errors.Is(err, qerrors.ErrAuthenticationFailed) {
				t.Errorf("wrong-nonce open error = %v, want ErrAuthenticationFailed", err)
			}
		})
	}
}

func TestAEADValidation(t *testing.T) {
	key := MustSecureRandomBytes(constants.AESKeySize)
	aead, err := NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	t.Run("BadKeySize", func(t *testing.T) {
		if _, err := NewAEAD(constants.CipherSuiteAES256GCM, key[:16]); !errors.Is(err, qerrors.ErrInvalidKeySize) {
			t.Errorf("error = %v, want ErrInvalidKeySize", err)
		}
	})

	t.Run("UnsupportedSuite", func(t *testing.T) {
		if _, err := NewAEAD(constants.CipherSuite(0xFFFF), key); err == nil {
			t.Error("unsupported suite accepted")
		}
	})

	t.Run("BadNonceLength", func(t *testing.T) {
		if _, err := aead.SealWithNonce(make([]byte, 8), []byte("x"), nil); !errors.Is(err, qerrors.ErrInvalidNonce) {
			t.Errorf("seal error = %v, want ErrInvalidNonce", err)
		}
		if _, err := aead.OpenWithNonce(make([]byte, 8), make([]byte, 32), nil); !errors.Is(err, qerrors.ErrInvalidNonce) {
			t.Errorf("open error = %v, want ErrInvalidNonce", err)
		}
	})

	t.Run("CiphertextTooShort", func(t *testing.T) {
		nonce := make([]byte, constants.AESNonceSize)
		if _, err := aead.OpenWithNonce(nonce, make([]byte, constants.AESTagSize-1), nil); !errors.Is(err, qerrors.ErrCiphertextTooShort) {
			t.Errorf("error = %v, want ErrCiphertextTooShort", err)
		}
	})

	t.Run("SuiteAccessors", func(t *testing.T) {
		if aead.Suite() != constants.CipherSuiteAES256GCM {
			t.Errorf("Suite() = %v", aead.Suite())
		}
		if aead.Overhead() != constants.AESTagSize {
			t.Errorf("Overhead() = %d, want %d", aead.Overhead(), constants.AESTagSize)
		}
		if aead.NonceSize() != constants.AESNonceSize {
			t.Errorf("NonceSize() = %d, want %d", aead.NonceSize(), constants.AESNonceSize)
		}
	})
}

func TestSealPooled(t *testing.T) {
	key := MustSecureRandomBytes(constants.AESKeySize)
	aead, err := NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	nonce := MustSecureRandomBytes(constants.AESNonceSize)
	plaintext := []byte("pooled message body")
	aad := []byte("ctx")

	pooled, err := aead.SealPooled(nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("SealPooled failed: %v", err)
	}
	direct, err := aead.SealWithNonce(nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("SealWithNonce failed: %v", err)
	}

	if !bytes.Equal(pooled, direct) {
		t.Error("pooled and direct seal outputs differ")
	}

	PutCryptoBuffer(pooled)

	if _, err := aead.SealPooled(make([]byte, 3), plaintext, aad); !errors.Is(err, qerrors.ErrInvalidNonce) {
		t.Errorf("bad-nonce error = %v, want ErrInvalidNonce", err)
	}
}

func TestBufferPool(t *testing.T) {
	pool := NewBufferPool()

	t.Run("SizeClasses", func(t *testing.T) {
		tests := []struct {
			size    int
			wantCap int
		}{
			{100, smallCryptoBufferSize},
			{smallCryptoBufferSize, smallCryptoBufferSize},
			{smallCryptoBufferSize + 1, mediumCryptoBufferSize},
			{mediumCryptoBufferSize, mediumCryptoBufferSize},
			{mediumCryptoBufferSize + 1, largeCryptoBufferSize},
			{largeCryptoBufferSize, largeCryptoBufferSize},
		}

		for _, tt := range tests {
			buf := pool.GetCiphertext(tt.size)
			if len(buf) != tt.size {
				t.Errorf("GetCiphertext(%d) len = %d", tt.size, len(buf))
			}
			if cap(buf) != tt.wantCap {
				t.Errorf("GetCiphertext(%d) cap = %d, want %d", tt.size, cap(buf), tt.wantCap)
			}
			pool.PutCiphertext(buf)
		}
	})

	t.Run("Oversize", func(t *testing.T) {
		size := largeCryptoBufferSize + 1
		buf := pool.GetCiphertext(size)
		if len(buf) != size {
			t.Errorf("oversize len = %d, want %d", len(buf), size)
		}
	})

	t.Run("ZeroSize", func(t *testing.T) {
		if buf := pool.GetCiphertext(0); buf != nil {
			t.Error("GetCiphertext(0) returned a buffer")
		}
	})

	t.Run("ZeroizedOnPut", func(t *testing.T) {
		buf := pool.GetCiphertext(64)
		for i := range buf {
			buf[i] = 0xFF
		}
		pool.PutCiphertext(buf)
		full := buf[:cap(buf)]
		for i, v := range full {
			if v != 0 {
				t.Fatalf("byte %d not zeroed after put: %d", i, v)
			}
		}
	})

	t.Run("NilAndForeignPut", func(t *testing.T) {
		pool.PutCiphertext(nil)
		pool.PutCiphertext(make([]byte, 77))
	})
}

func TestRNGHealthCheck(t *testing.T) {
	result := RNGHealthCheck()
	if !result.Passed {
		t.Errorf("RNGHealthCheck failed: %v", result.Error)
	}
}

func TestContinuousRNGTest(t *testing.T) {
	sample := bytes.Repeat([]byte{0xAB}, 32)

	// First presentation either records a baseline or differs from the
	// previous random sample; the repeat must always be caught.
	if r := ContinuousRNGTest(sample); !r.Passed {
		t.Fatalf("initial presentation failed: %v", r.Error)
	}
	if r := ContinuousRNGTest(sample); r.Passed {
		t.Error("repeated output not detected")
	}

	other := bytes.Repeat([]byte{0xCD}, 32)
	if r := ContinuousRNGTest(other); !r.Passed {
		t.Errorf("distinct output rejected: %v", r.Error)
	}
}

func TestSecureRandomChecked(t *testing.T) {
	buf1 := make([]byte, 32)
	buf2 := make([]byte, 32)

	if err := SecureRandomChecked(buf1); err != nil {
		t.Fatalf("SecureRandomChecked failed: %v", err)
	}
	if err := SecureRandomChecked(buf2); err != nil {
		t.Fatalf("SecureRandomChecked failed: %v", err)
	}
	if bytes.Equal(buf1, buf2) {
		t.Error("consecutive checked reads identical")
	}
}

func TestRNGCheckConfig(t *testing.T) {
	cfg := GetRNGCheckConfig()
	if !cfg.EnableHealthCheck || !cfg.EnableContinuousTest {
		t.Error("default config should enable both checks")
	}
	if cfg.HealthCheckInterval == 0 {
		t.Error("default interval must be non-zero")
	}
	if !RNGChecksEnabled() {
		t.Error("RNGChecksEnabled() = false with default config")
	}
}
