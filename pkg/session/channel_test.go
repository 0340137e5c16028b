package session

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
	"github.com/sara-star-quant/qkd-go/pkg/crypto"
	"github.com/sara-star-quant/qkd-go/pkg/protocol"
)

// newChannelPair builds sender and receiver channels sharing one key, the
// way two sessions end up after a handshake.
func newChannelPair(t *testing.T, suite constants.CipherSuite) (*KeyedChannel, *KeyedChannel) {
	t.Helper()
	key := make([]byte, constants.SessionKeySize)
	if err := crypto.SecureRandom(key); err != nil {
		t.Fatalf("SecureRandom: %v", err)
	}
	a, err := NewKeyedChannel(key, suite)
	if err != nil {
		t.Fatalf("NewKeyedChannel(a): %v", err)
	}
	b, err := NewKeyedChannel(key, suite)
	if err != nil {
		t.Fatalf("NewKeyedChannel(b): %v", err)
	}
	return a, b
}

func TestChannelRoundTrip(t *testing.T) {
	suites := map[string]constants.CipherSuite{
		"aes-256-gcm":       constants.CipherSuiteAES256GCM,
		"chacha20-poly1305": constants.CipherSuiteChaCha20Poly1305,
	}
	for name, suite := range suites {
		t.Run(name, func(t *testing.T) {
			a, b := newChannelPair(t, suite)

			messages := [][]byte{
				[]byte("first"),
				[]byte("second, a bit longer"),
				bytes.Repeat([]byte{0x42}, 1024),
			}
			for i, msg := range messages {
				payload, err := a.Encrypt(msg)
				if err != nil {
					t.Fatalf("Encrypt %d: %v", i, err)
				}
				if payload.Counter != uint32(i) {
					t.Errorf("payload counter = %d, want %d", payload.Counter, i)
				}
				plaintext, err := b.Decrypt(payload)
				if err != nil {
					t.Fatalf("Decrypt %d: %v", i, err)
				}
				if !bytes.Equal(plaintext, msg) {
					t.Errorf("message %d corrupted in transit", i)
				}
			}

			send, _ := a.Counters()
			_, recv := b.Counters()
			if send != uint32(len(messages)) || recv != uint32(len(messages)) {
				t.Errorf("counters = %d sent / %d received", send, recv)
			}
			if a.Suite() != suite {
				t.Errorf("Suite() = %v, want %v", a.Suite(), suite)
			}
		})
	}
}

func TestChannelRejectsBadKey(t *testing.T) {
	if _, err := NewKeyedChannel(make([]byte, 16), constants.CipherSuiteAES256GCM); !qerrors.Is(err, qerrors.ErrInvalidKeySize) {
		t.Errorf("short key error = %v, want ErrInvalidKeySize", err)
	}
}

func TestChannelReplay(t *testing.T) {
	a, b := newChannelPair(t, constants.CipherSuiteAES256GCM)

	p0, err := a.Encrypt([]byte("zero"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	p1, err := a.Encrypt([]byte("one"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Out of order: counter 1 before counter 0.
	if _, err := b.Decrypt(p1); !qerrors.Is(err, qerrors.ErrReplayDetected) {
		t.Fatalf("reordered error = %v, want ErrReplayDetected", err)
	}

	// In order both decrypt.
	if _, err := b.Decrypt(p0); err != nil {
		t.Fatalf("Decrypt p0: %v", err)
	}
	if _, err := b.Decrypt(p1); err != nil {
		t.Fatalf("Decrypt p1: %v", err)
	}

	// Replaying an accepted message fails.
	if _, err := b.Decrypt(p0); !qerrors.Is(err, qerrors.ErrReplayDetected) {
		t.Errorf("replay error = %v, want ErrReplayDetected", err)
	}
}

func TestChannelReplayCheckedBeforeCrypto(t *testing.T) {
	_, b := newChannelPair(t, constants.CipherSuiteAES256GCM)

	// Garbage fields with a wrong counter: the counter check must fire
	// first, before any decoding could fail.
	payload := &protocol.SecurePayload{
		Nonce:      "zz",
		Tag:        "zz",
		Ciphertext: "zz",
		Counter:    7,
	}
	if _, err := b.Decrypt(payload); !qerrors.Is(err, qerrors.ErrReplayDetected) {
		t.Errorf("err = %v, want ErrReplayDetected before decode", err)
	}
}

func TestChannelTamperDetected(t *testing.T) {
	a, b := newChannelPair(t, constants.CipherSuiteAES256GCM)

	payload, err := a.Encrypt([]byte("integrity"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tag, err := hex.DecodeString(payload.Tag)
	if err != nil {
		t.Fatalf("decoding tag: %v", err)
	}
	tag[0] ^= 0xFF
	tampered := *payload
	tampered.Tag = hex.EncodeToString(tag)

	if _, err := b.Decrypt(&tampered); !qerrors.Is(err, qerrors.ErrAuthenticationFailed) {
		t.Fatalf("tampered error = %v, want ErrAuthenticationFailed", err)
	}

	// The failure must not advance the receive counter.
	plaintext, err := b.Decrypt(payload)
	if err != nil {
		t.Fatalf("original after tamper: %v", err)
	}
	if string(plaintext) != "integrity" {
		t.Errorf("plaintext = %q", plaintext)
	}
}

func TestChannelPlaintextBounds(t *testing.T) {
	a, _ := newChannelPair(t, constants.CipherSuiteAES256GCM)

	if _, err := a.Encrypt(nil); !qerrors.Is(err, qerrors.ErrInvalidPlaintext) {
		t.Errorf("empty plaintext error = %v, want ErrInvalidPlaintext", err)
	}
	if _, err := a.Encrypt(make([]byte, constants.MaxPlaintextSize+1)); !qerrors.Is(err, qerrors.ErrInvalidPlaintext) {
		t.Errorf("oversized plaintext error = %v, want ErrInvalidPlaintext", err)
	}
	if _, err := a.Encrypt(make([]byte, constants.MaxPlaintextSize)); err != nil {
		t.Errorf("plaintext at the ceiling: %v", err)
	}
}

func TestChannelCounterExhaustion(t *testing.T) {
	a, _ := newChannelPair(t, constants.CipherSuiteAES256GCM)

	a.sendCounter = constants.MaxCounter
	if _, err := a.Encrypt([]byte("one too many")); !qerrors.Is(err, qerrors.ErrCounterExhausted) {
		t.Errorf("err = %v, want ErrCounterExhausted", err)
	}
	// The counter must not wrap.
	if send, _ := a.Counters(); send != constants.MaxCounter {
		t.Errorf("send counter = %d after refusal", send)
	}
}

func TestChannelClosed(t *testing.T) {
	a, b := newChannelPair(t, constants.CipherSuiteAES256GCM)

	payload, err := a.Encrypt([]byte("before close"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	a.Close()
	b.Close()
	b.Close() // idempotent

	if _, err := a.Encrypt([]byte("after close")); !qerrors.Is(err, qerrors.ErrSessionTerminated) {
		t.Errorf("Encrypt after close = %v, want ErrSessionTerminated", err)
	}
	if _, err := b.Decrypt(payload); !qerrors.Is(err, qerrors.ErrSessionTerminated) {
		t.Errorf("Decrypt after close = %v, want ErrSessionTerminated", err)
	}
}

func TestChannelNilPayload(t *testing.T) {
	_, b := newChannelPair(t, constants.CipherSuiteAES256GCM)
	if _, err := b.Decrypt(nil); !qerrors.Is(err, qerrors.ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload", err)
	}
}
