package constants

import "testing"

// TestCipherSuiteString tests String method for CipherSuite.
func TestCipherSuiteString(t *testing.T) {
	tests := []struct {
		suite CipherSuite
		want  string
	}{
		{CipherSuiteAES256GCM, "AES-256-GCM"},
		{CipherSuiteChaCha20Poly1305, "ChaCha20-Poly1305"},
		{CipherSuite(0x9999), "Unknown"},
	}

	for _, tt := range tests {
		got := tt.suite.String()
		if got != tt.want {
			t.Errorf("CipherSuite(%d).String() = %q, want %q", tt.suite, got, tt.want)
		}
	}
}

// TestCipherSuiteIsSupported tests IsSupported method for CipherSuite.
func TestCipherSuiteIsSupported(t *testing.T) {
	tests := []struct {
		suite CipherSuite
		want  bool
	}{
		{CipherSuiteAES256GCM, true},
		{CipherSuiteChaCha20Poly1305, true},
		{CipherSuite(0x0000), false},
		{CipherSuite(0xFFFF), false},
		{CipherSuite(0x0003), false},
	}

	for _, tt := range tests {
		got := tt.suite.IsSupported()
		if got != tt.want {
			t.Errorf("CipherSuite(%d).IsSupported() = %v, want %v", tt.suite, got, tt.want)
		}
	}
}

// TestConstants verifies constant values using table-driven tests.
func TestConstants(t *testing.T) {
	t.Run("ExchangeParameters", testExchangeParameters)
	t.Run("AEADParameters", testAEADParameters)
	t.Run("SessionParameters", testSessionParameters)
	t.Run("MessageLimits", testMessageLimits)
	t.Run("DomainSeparators", testDomainSeparators)
}

func testExchangeParameters(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"KeyLength", KeyLength, 256},
		{"MinSiftedForSampling", MinSiftedForSampling, 20},
		{"MinSampleSize", MinSampleSize, 5},
		{"SampleDivisor", SampleDivisor, 4},
		{"CorrectionBlockSize", CorrectionBlockSize, 3},
		{"AmplifiedBits", AmplifiedBits, 256},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
	if QBERThreshold != 0.11 {
		t.Errorf("QBERThreshold = %v, want 0.11", QBERThreshold)
	}
}

func testAEADParameters(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"SessionKeySize", SessionKeySize, 32},
		{"AESKeySize", AESKeySize, 32},
		{"AESNonceSize", AESNonceSize, 12},
		{"AESTagSize", AESTagSize, 16},
		{"ConfirmInputSize", ConfirmInputSize, 16},
		{"ConfirmHashSize", ConfirmHashSize, 32},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func testSessionParameters(t *testing.T) {
	if DefaultMaxRestarts <= 0 {
		t.Errorf("DefaultMaxRestarts = %d, want > 0", DefaultMaxRestarts)
	}
	if DefaultHandshakeTimeout <= 0 {
		t.Errorf("DefaultHandshakeTimeout = %v, want > 0", DefaultHandshakeTimeout)
	}
	if MaxCounter != 1<<32-1 {
		t.Errorf("MaxCounter = %d, want 2^32-1", uint64(MaxCounter))
	}
}

func testMessageLimits(t *testing.T) {
	if MaxEnvelopeSize == 0 {
		t.Error("MaxEnvelopeSize should be non-zero")
	}
	// Worst case per secure message: hex doubles the ciphertext plus
	// envelope framing. The plaintext cap must leave room for that.
	if 2*(MaxPlaintextSize+AESTagSize)+1024 > MaxEnvelopeSize {
		t.Error("MaxPlaintextSize leaves no framing headroom under MaxEnvelopeSize")
	}
}

func testDomainSeparators(t *testing.T) {
	tags := map[string]string{
		"DomainSeparatorAmplify": DomainSeparatorAmplify,
		"DomainSeparatorNonce":   DomainSeparatorNonce,
		"DomainSeparatorConfirm": DomainSeparatorConfirm,
	}
	seen := make(map[string]string)
	for name, tag := range tags {
		if tag == "" {
			t.Errorf("%s is empty", name)
		}
		if prev, dup := seen[tag]; dup {
			t.Errorf("%s duplicates %s", name, prev)
		}
		seen[tag] = name
	}
}

// TestCipherSuiteUniqueness ensures cipher suite IDs are unique.
func TestCipherSuiteUniqueness(t *testing.T) {
	if CipherSuiteAES256GCM == CipherSuiteChaCha20Poly1305 {
		t.Error("Cipher suite IDs must be unique")
	}
}
