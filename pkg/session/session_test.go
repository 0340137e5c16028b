package session

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
	"github.com/sara-star-quant/qkd-go/pkg/bb84"
	"github.com/sara-star-quant/qkd-go/pkg/protocol"
)

// recorder captures observer callbacks for assertions.
type recorder struct {
	starts    int
	startRole Role
	changes   []State
	completes int
	restarts  []string
	drops     int
	qbers     []float64
	replays   int
	authFails int
	protoErrs int
	ends      []string
	encrypts  int
	decrypts  int
}

func (r *recorder) OnSessionStart(role Role) { r.starts++; r.startRole = role }
func (r *recorder) OnStateChange(_, to State) {
	r.changes = append(r.changes, to)
}
func (r *recorder) OnHandshakeComplete(time.Duration, int)          { r.completes++ }
func (r *recorder) OnRestart(reason string)                         { r.restarts = append(r.restarts, reason) }
func (r *recorder) OnEnvelopeDropped(protocol.MessageType, State)   { r.drops++ }
func (r *recorder) OnQBER(percent float64)                          { r.qbers = append(r.qbers, percent) }
func (r *recorder) OnReplayDetected()                               { r.replays++ }
func (r *recorder) OnAuthFailure()                                  { r.authFails++ }
func (r *recorder) OnProtocolError(error)                           { r.protoErrs++ }
func (r *recorder) OnSessionEnd(reason string)                      { r.ends = append(r.ends, reason) }

func (r *recorder) OnEncrypt(ctx context.Context, _ int) (context.Context, func(error)) {
	r.encrypts++
	return ctx, func(error) {}
}

func (r *recorder) OnDecrypt(ctx context.Context, _ int) (context.Context, func(error)) {
	r.decrypts++
	return ctx, func(error) {}
}

func newPair(t *testing.T, a, b Config) (*Session, *Session) {
	t.Helper()
	if a.LocalID == "" {
		a.LocalID, a.PeerID = "alice", "bob"
	}
	if b.LocalID == "" {
		b.LocalID, b.PeerID = "bob", "alice"
	}
	sa, err := NewSession(a)
	if err != nil {
		t.Fatalf("NewSession(a): %v", err)
	}
	sb, err := NewSession(b)
	if err != nil {
		t.Fatalf("NewSession(b): %v", err)
	}
	return sa, sb
}

// pump delivers queued envelopes in order until both sessions quiesce.
// tamper may rewrite an envelope in flight; returning nil drops it.
func pump(t *testing.T, a, b *Session, queue []*protocol.Envelope, tamper func(*protocol.Envelope) *protocol.Envelope) {
	t.Helper()
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 500 {
			t.Fatal("handshake did not quiesce")
		}
		env := queue[0]
		queue = queue[1:]
		if tamper != nil {
			if env = tamper(env); env == nil {
				continue
			}
		}

		var target *Session
		switch env.To {
		case a.LocalID():
			target = a
		case b.LocalID():
			target = b
		default:
			t.Fatalf("envelope addressed to unknown peer %q", env.To)
		}

		res, err := target.Dispatch(env)
		if err != nil {
			t.Fatalf("dispatch %s to %s: %v", env.Type, env.To, err)
		}
		queue = append(queue, res.Outbound...)
	}
}

func completeHandshake(t *testing.T, a, b *Session) {
	t.Helper()
	res, err := a.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	pump(t, a, b, res.Outbound, nil)
	if a.State() != StateActive || b.State() != StateActive {
		t.Fatalf("states after handshake: %v / %v", a.State(), b.State())
	}
}

// forgeVerification rebuilds a key_verification envelope with a hash that
// cannot match any real confirmation digest.
func forgeVerification(t *testing.T, env *protocol.Envelope) *protocol.Envelope {
	t.Helper()
	forged, err := protocol.NewEnvelope(env.Type, env.From, env.To, env.SessionID, &protocol.VerificationPayload{
		Hash: strings.Repeat("ab", constants.ConfirmHashSize),
	})
	if err != nil {
		t.Fatalf("forging verification: %v", err)
	}
	return forged
}

func TestNewSessionValidation(t *testing.T) {
	cases := []struct {
		name   string
		config Config
	}{
		{"missing local", Config{PeerID: "bob"}},
		{"missing peer", Config{LocalID: "alice"}},
		{"self peer", Config{LocalID: "alice", PeerID: "alice"}},
		{"bad suite", Config{LocalID: "alice", PeerID: "bob", Suite: constants.CipherSuite(0xFF)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSession(tc.config); err == nil {
				t.Error("expected error")
			}
		})
	}

	s, err := NewSession(Config{LocalID: "alice", PeerID: "bob"})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("fresh session state = %v, want IDLE", s.State())
	}
	if s.suite != constants.CipherSuiteAES256GCM {
		t.Errorf("default suite = %v, want AES-256-GCM", s.suite)
	}
	if s.maxRestarts != constants.DefaultMaxRestarts {
		t.Errorf("default budget = %d, want %d", s.maxRestarts, constants.DefaultMaxRestarts)
	}
}

func TestStartOnlyFromIdle(t *testing.T) {
	a, _ := newPair(t, Config{}, Config{})

	res, err := a.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.State() != StateRequested || a.Role() != RoleInitiator {
		t.Errorf("after Start: state %v role %v", a.State(), a.Role())
	}
	if len(res.Outbound) != 1 || res.Outbound[0].Type != protocol.MessageTypeSessionRequest {
		t.Fatalf("Start outbound = %+v", res.Outbound)
	}
	if res.Outbound[0].SessionID == "" {
		t.Error("session_request missing round identifier")
	}

	if _, err := a.Start(); !qerrors.Is(err, qerrors.ErrInvalidState) {
		t.Errorf("second Start error = %v, want ErrInvalidState", err)
	}
}

func TestHandshakeCompletes(t *testing.T) {
	ra, rb := &recorder{}, &recorder{}
	a, b := newPair(t, Config{Observer: ra}, Config{Observer: rb})

	completeHandshake(t, a, b)

	keyA, keyB := a.Key(), b.Key()
	if len(keyA) != constants.SessionKeySize {
		t.Fatalf("key length = %d, want %d", len(keyA), constants.SessionKeySize)
	}
	if !bytes.Equal(keyA, keyB) {
		t.Fatal("peers derived different keys")
	}
	if a.Role() != RoleInitiator || b.Role() != RoleResponder {
		t.Errorf("roles = %v / %v", a.Role(), b.Role())
	}
	if a.Restarts() != 0 || b.Restarts() != 0 {
		t.Errorf("restarts = %d / %d, want 0", a.Restarts(), b.Restarts())
	}
	if a.ID() == "" || a.ID() != b.ID() {
		t.Errorf("round identifiers disagree: %q / %q", a.ID(), b.ID())
	}

	if ra.starts != 1 || rb.starts != 1 {
		t.Errorf("session start events = %d / %d, want 1 each", ra.starts, rb.starts)
	}
	if ra.startRole != RoleInitiator || rb.startRole != RoleResponder {
		t.Errorf("start roles = %v / %v", ra.startRole, rb.startRole)
	}
	if ra.completes != 1 || rb.completes != 1 {
		t.Errorf("handshake completions = %d / %d, want 1 each", ra.completes, rb.completes)
	}
	// Each side reports the sift estimate; the responder also reports the
	// sampled rate.
	if len(ra.qbers) == 0 || len(rb.qbers) < 2 {
		t.Errorf("qber reports = %d / %d", len(ra.qbers), len(rb.qbers))
	}
	for _, q := range append(ra.qbers, rb.qbers...) {
		if q != 0 {
			t.Errorf("noiseless exchange reported QBER %.2f", q)
		}
	}

	// Transient states are narrated even though dispatch passes through
	// them without resting.
	sawSifted, sawCorrection := false, false
	for _, st := range rb.changes {
		switch st {
		case StateSifted:
			sawSifted = true
		case StateErrorCorrection:
			sawCorrection = true
		}
	}
	if !sawSifted || !sawCorrection {
		t.Errorf("responder transitions %v missing transient states", rb.changes)
	}
}

func TestSimultaneousInitiationTieBreak(t *testing.T) {
	a, b := newPair(t, Config{}, Config{})

	resA, err := a.Start()
	if err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	resB, err := b.Start()
	if err != nil {
		t.Fatalf("b.Start: %v", err)
	}

	queue := append(resA.Outbound, resB.Outbound...)
	pump(t, a, b, queue, nil)

	if a.State() != StateActive || b.State() != StateActive {
		t.Fatalf("states = %v / %v, want ACTIVE", a.State(), b.State())
	}
	// The smaller identity keeps the initiator role.
	if a.Role() != RoleInitiator || b.Role() != RoleResponder {
		t.Errorf("roles = %v / %v", a.Role(), b.Role())
	}
	if !bytes.Equal(a.Key(), b.Key()) {
		t.Error("peers derived different keys")
	}
}

func TestShortSiftedKeySkipsSampling(t *testing.T) {
	a, _ := newPair(t, Config{}, Config{})

	// Ten qubits, all in the Z basis with matching peer bases, sift to
	// ten positions, below the sampling floor.
	n := 10
	a.role = RoleInitiator
	a.id = "round-1"
	a.state = StateExchanging
	a.qubits = make([]bb84.Qubit, n)
	a.peerBases = make([]bb84.Basis, n)
	bits := make([]int, n)
	for i := range a.qubits {
		a.qubits[i] = bb84.Qubit{Bit: 1, Basis: bb84.BasisZ}
		a.peerBases[i] = bb84.BasisZ
		bits[i] = 1
	}

	env, err := protocol.NewEnvelope(protocol.MessageTypeMeasurements, "bob", "alice", "round-1", &protocol.MeasurementsPayload{Bits: bits})
	if err != nil {
		t.Fatalf("building measurements: %v", err)
	}

	res, err := a.Dispatch(env)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.State != StateKeyConfirm {
		t.Fatalf("state = %v, want KEY_CONFIRM", res.State)
	}
	if len(res.Outbound) != 1 || res.Outbound[0].Type != protocol.MessageTypeVerification {
		t.Fatalf("outbound = %+v, want a single key_verification", res.Outbound)
	}
	if a.candidate == nil || a.confirmHash == nil {
		t.Error("candidate key not derived")
	}
	if len(a.sifted) != n {
		t.Errorf("sifted length = %d, want %d (no sample pruning)", len(a.sifted), n)
	}
}

func TestQBERAboveThresholdRestarts(t *testing.T) {
	rb := &recorder{}
	_, b := newPair(t, Config{}, Config{Observer: rb})

	// Responder resting in QBER_CHECK over forty zero bits.
	b.id = "round-1"
	b.state = StateQBERCheck
	b.sifted = make([]uint8, 40)

	k := bb84.SampleSize(40)
	indices := make([]int, k)
	sampleBits := make([]int, k)
	for i := range indices {
		indices[i] = i
		sampleBits[i] = 1 // every revealed bit disagrees
	}
	env, err := protocol.NewEnvelope(protocol.MessageTypeSample, "alice", "bob", "round-1", &protocol.SamplePayload{
		Indices: indices,
		Bits:    sampleBits,
	})
	if err != nil {
		t.Fatalf("building sample: %v", err)
	}

	res, err := b.Dispatch(env)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Restarted {
		t.Fatal("expected a restart")
	}
	if res.State != StateRequested || b.Role() != RoleInitiator {
		t.Errorf("after restart: state %v role %v", res.State, b.Role())
	}
	if len(res.Outbound) != 2 {
		t.Fatalf("outbound = %d envelopes, want restart notice and request", len(res.Outbound))
	}
	if res.Outbound[0].Type != protocol.MessageTypeRestart || res.Outbound[0].SessionID != "round-1" {
		t.Errorf("restart notice = %s round %q", res.Outbound[0].Type, res.Outbound[0].SessionID)
	}
	if res.Outbound[1].Type != protocol.MessageTypeSessionRequest || res.Outbound[1].SessionID == "round-1" {
		t.Errorf("request = %s round %q, want a fresh round", res.Outbound[1].Type, res.Outbound[1].SessionID)
	}
	if len(rb.qbers) != 1 || rb.qbers[0] != 100 {
		t.Errorf("reported QBER = %v, want [100]", rb.qbers)
	}
	if len(rb.restarts) != 1 {
		t.Errorf("restart events = %d, want 1", len(rb.restarts))
	}
}

func TestSampleSizeEnforced(t *testing.T) {
	_, b := newPair(t, Config{}, Config{})
	b.id = "round-1"
	b.state = StateQBERCheck
	b.sifted = make([]uint8, 40)

	// Too few revealed positions.
	env, err := protocol.NewEnvelope(protocol.MessageTypeSample, "alice", "bob", "round-1", &protocol.SamplePayload{
		Indices: []int{0, 1, 2, 3, 4},
		Bits:    []int{0, 0, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("building sample: %v", err)
	}
	if _, err := b.Dispatch(env); !qerrors.Is(err, qerrors.ErrInvalidPayload) {
		t.Errorf("undersized sample error = %v, want ErrInvalidPayload", err)
	}

	// Right size, index out of range.
	k := bb84.SampleSize(40)
	indices := make([]int, k)
	sampleBits := make([]int, k)
	for i := range indices {
		indices[i] = i
	}
	indices[k-1] = 100
	env, err = protocol.NewEnvelope(protocol.MessageTypeSample, "alice", "bob", "round-1", &protocol.SamplePayload{
		Indices: indices,
		Bits:    sampleBits,
	})
	if err != nil {
		t.Fatalf("building sample: %v", err)
	}
	if _, err := b.Dispatch(env); !qerrors.Is(err, qerrors.ErrInvalidPayload) {
		t.Errorf("out-of-range sample error = %v, want ErrInvalidPayload", err)
	}
}

func TestConfirmationMismatchRestartsRound(t *testing.T) {
	ra, rb := &recorder{}, &recorder{}
	a, b := newPair(t, Config{Observer: ra}, Config{Observer: rb})

	res, err := a.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Corrupt the first confirmation hash in flight; the round fails and
	// the detecting side initiates the next one.
	corrupted := false
	pump(t, a, b, res.Outbound, func(env *protocol.Envelope) *protocol.Envelope {
		if env.Type != protocol.MessageTypeVerification || corrupted {
			return env
		}
		corrupted = true
		return forgeVerification(t, env)
	})

	if a.State() != StateActive || b.State() != StateActive {
		t.Fatalf("states = %v / %v, want ACTIVE", a.State(), b.State())
	}
	if !bytes.Equal(a.Key(), b.Key()) {
		t.Fatal("peers derived different keys")
	}
	// Roles swapped: the side that detected the mismatch initiated the
	// second round.
	if a.Role() != RoleResponder || b.Role() != RoleInitiator {
		t.Errorf("roles = %v / %v, want responder / initiator", a.Role(), b.Role())
	}
	if len(ra.restarts) != 1 || len(rb.restarts) != 1 {
		t.Errorf("restart events = %d / %d, want 1 each", len(ra.restarts), len(rb.restarts))
	}
	if a.Restarts() != 0 || b.Restarts() != 0 {
		t.Errorf("restart counters = %d / %d, want reset to 0", a.Restarts(), b.Restarts())
	}
	// The start event fires once per session, not per round.
	if ra.starts != 1 || rb.starts != 1 {
		t.Errorf("session start events = %d / %d, want 1 each", ra.starts, rb.starts)
	}
}

func TestRestartBudgetTerminates(t *testing.T) {
	ra, rb := &recorder{}, &recorder{}
	a, b := newPair(t,
		Config{LocalID: "alice", PeerID: "bob", MaxRestarts: 2, Observer: ra},
		Config{LocalID: "bob", PeerID: "alice", MaxRestarts: 2, Observer: rb},
	)

	res, err := a.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Every confirmation hash is corrupted, so every round fails.
	pump(t, a, b, res.Outbound, func(env *protocol.Envelope) *protocol.Envelope {
		if env.Type != protocol.MessageTypeVerification {
			return env
		}
		return forgeVerification(t, env)
	})

	if a.State() != StateTerminated || b.State() != StateTerminated {
		t.Fatalf("states = %v / %v, want TERMINATED", a.State(), b.State())
	}
	if a.Key() != nil || b.Key() != nil {
		t.Error("terminated sessions must not expose keys")
	}
	if len(ra.ends) != 1 || len(rb.ends) != 1 {
		t.Fatalf("end events = %d / %d, want 1 each", len(ra.ends), len(rb.ends))
	}
	if !strings.Contains(ra.ends[0], "restart budget") {
		t.Errorf("end reason = %q", ra.ends[0])
	}
}

func TestFencingDropsUnexpectedEnvelopes(t *testing.T) {
	build := func(t *testing.T, typ protocol.MessageType, from, to, sid string) *protocol.Envelope {
		t.Helper()
		env, err := protocol.NewEnvelope(typ, from, to, sid, nil)
		if err != nil {
			t.Fatalf("building %s: %v", typ, err)
		}
		return env
	}

	t.Run("wrong state", func(t *testing.T) {
		r := &recorder{}
		a, _ := newPair(t, Config{Observer: r}, Config{})
		res, err := a.Dispatch(build(t, protocol.MessageTypeBases, "bob", "alice", "x"))
		if err != nil || !res.Dropped {
			t.Fatalf("res=%+v err=%v, want silent drop", res, err)
		}
		if a.State() != StateIdle || r.drops != 1 {
			t.Errorf("state=%v drops=%d", a.State(), r.drops)
		}
	})

	t.Run("wrong sender", func(t *testing.T) {
		a, _ := newPair(t, Config{}, Config{})
		res, err := a.Dispatch(build(t, protocol.MessageTypeSessionRequest, "mallory", "alice", "x"))
		if err != nil || !res.Dropped {
			t.Fatalf("res=%+v err=%v, want silent drop", res, err)
		}
	})

	t.Run("wrong recipient", func(t *testing.T) {
		a, _ := newPair(t, Config{}, Config{})
		res, err := a.Dispatch(build(t, protocol.MessageTypeSessionRequest, "bob", "carol", "x"))
		if err != nil || !res.Dropped {
			t.Fatalf("res=%+v err=%v, want silent drop", res, err)
		}
	})

	t.Run("stale round", func(t *testing.T) {
		a, _ := newPair(t, Config{}, Config{})
		if _, err := a.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		res, err := a.Dispatch(build(t, protocol.MessageTypeSessionAccept, "bob", "alice", "not-the-round"))
		if err != nil || !res.Dropped {
			t.Fatalf("res=%+v err=%v, want silent drop", res, err)
		}
		if a.State() != StateRequested {
			t.Errorf("state = %v, want REQUESTED", a.State())
		}
	})

	t.Run("terminated", func(t *testing.T) {
		a, _ := newPair(t, Config{}, Config{})
		if _, err := a.Terminate("test"); err != nil {
			t.Fatalf("Terminate: %v", err)
		}
		res, err := a.Dispatch(build(t, protocol.MessageTypeSessionRequest, "bob", "alice", "x"))
		if err != nil || !res.Dropped {
			t.Fatalf("res=%+v err=%v, want silent drop", res, err)
		}
	})

	t.Run("nil envelope", func(t *testing.T) {
		a, _ := newPair(t, Config{}, Config{})
		if _, err := a.Dispatch(nil); !qerrors.Is(err, qerrors.ErrInvalidEnvelope) {
			t.Errorf("err = %v, want ErrInvalidEnvelope", err)
		}
	})
}

func TestPeerTerminateHonoredMidHandshake(t *testing.T) {
	ra := &recorder{}
	a, b := newPair(t, Config{Observer: ra}, Config{})

	res, err := a.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := b.Dispatch(res.Outbound[0]); err != nil {
		t.Fatalf("b.Dispatch: %v", err)
	}

	notice, err := b.Terminate("operator shutdown")
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if notice == nil || notice.Type != protocol.MessageTypeTerminate {
		t.Fatalf("notice = %+v", notice)
	}

	if _, err := a.Dispatch(notice); err != nil {
		t.Fatalf("a.Dispatch(notice): %v", err)
	}
	if a.State() != StateTerminated {
		t.Fatalf("state = %v, want TERMINATED", a.State())
	}
	if len(ra.ends) != 1 || !strings.Contains(ra.ends[0], "operator shutdown") {
		t.Errorf("end events = %v", ra.ends)
	}
}

func TestTerminateZeroizesState(t *testing.T) {
	a, b := newPair(t, Config{}, Config{})
	completeHandshake(t, a, b)

	notice, err := a.Terminate("done")
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if notice == nil || notice.Type != protocol.MessageTypeTerminate {
		t.Fatalf("notice = %+v", notice)
	}

	if a.Key() != nil {
		t.Error("Key() after Terminate should be nil")
	}
	if a.finalKey != nil || a.candidate != nil || a.sifted != nil || a.channel != nil {
		t.Error("secret buffers survived termination")
	}

	// Second Terminate is a no-op.
	notice, err = a.Terminate("again")
	if err != nil || notice != nil {
		t.Errorf("repeat Terminate = (%+v, %v), want (nil, nil)", notice, err)
	}
}

func TestSecureMessaging(t *testing.T) {
	ra, rb := &recorder{}, &recorder{}
	a, b := newPair(t, Config{Observer: ra}, Config{Observer: rb})
	completeHandshake(t, a, b)

	for i, msg := range []string{"hello bob", "still there?", "yes"} {
		env, err := a.EncryptMessage([]byte(msg))
		if err != nil {
			t.Fatalf("EncryptMessage %d: %v", i, err)
		}
		res, err := b.Dispatch(env)
		if err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
		if string(res.Plaintext) != msg {
			t.Errorf("message %d = %q, want %q", i, res.Plaintext, msg)
		}
	}

	// And the other direction.
	env, err := b.EncryptMessage([]byte("hello alice"))
	if err != nil {
		t.Fatalf("EncryptMessage: %v", err)
	}
	res, err := a.Dispatch(env)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if string(res.Plaintext) != "hello alice" {
		t.Errorf("reply = %q", res.Plaintext)
	}

	statsA, statsB := a.Stats(), b.Stats()
	if statsA.MessagesSent != 3 || statsA.MessagesReceived != 1 {
		t.Errorf("a counters = %d sent / %d received", statsA.MessagesSent, statsA.MessagesReceived)
	}
	if statsB.MessagesSent != 1 || statsB.MessagesReceived != 3 {
		t.Errorf("b counters = %d sent / %d received", statsB.MessagesSent, statsB.MessagesReceived)
	}
	if ra.encrypts != 3 || rb.decrypts != 3 {
		t.Errorf("observer events: %d encrypts / %d decrypts", ra.encrypts, rb.decrypts)
	}
}

func TestSecureMessageReplayRejected(t *testing.T) {
	rb := &recorder{}
	a, b := newPair(t, Config{}, Config{Observer: rb})
	completeHandshake(t, a, b)

	env, err := a.EncryptMessage([]byte("one shot"))
	if err != nil {
		t.Fatalf("EncryptMessage: %v", err)
	}
	if _, err := b.Dispatch(env); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	if _, err := b.Dispatch(env); !qerrors.Is(err, qerrors.ErrReplayDetected) {
		t.Errorf("replayed delivery error = %v, want ErrReplayDetected", err)
	}
	if rb.replays != 1 {
		t.Errorf("replay events = %d, want 1", rb.replays)
	}
	if b.State() != StateActive {
		t.Errorf("state after replay = %v, want ACTIVE", b.State())
	}
}

func TestSecureMessageTamperRejected(t *testing.T) {
	rb := &recorder{}
	a, b := newPair(t, Config{}, Config{Observer: rb})
	completeHandshake(t, a, b)

	env, err := a.EncryptMessage([]byte("authenticated"))
	if err != nil {
		t.Fatalf("EncryptMessage: %v", err)
	}

	var p protocol.SecurePayload
	if err := a.codec.DecodePayload(env, &p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Tag[0] == '0' {
		p.Tag = "1" + p.Tag[1:]
	} else {
		p.Tag = "0" + p.Tag[1:]
	}
	tampered, err := protocol.NewEnvelope(env.Type, env.From, env.To, env.SessionID, &p)
	if err != nil {
		t.Fatalf("rebuilding envelope: %v", err)
	}

	if _, err := b.Dispatch(tampered); !qerrors.Is(err, qerrors.ErrAuthenticationFailed) {
		t.Errorf("tampered delivery error = %v, want ErrAuthenticationFailed", err)
	}
	if rb.authFails != 1 {
		t.Errorf("auth failure events = %d, want 1", rb.authFails)
	}

	// The failed decrypt must not advance the counter; the original still
	// decrypts.
	res, err := b.Dispatch(env)
	if err != nil {
		t.Fatalf("original after tamper: %v", err)
	}
	if string(res.Plaintext) != "authenticated" {
		t.Errorf("plaintext = %q", res.Plaintext)
	}
}

func TestEncryptMessageRequiresActive(t *testing.T) {
	a, _ := newPair(t, Config{}, Config{})
	if _, err := a.EncryptMessage([]byte("too early")); !qerrors.Is(err, qerrors.ErrSessionNotActive) {
		t.Errorf("err = %v, want ErrSessionNotActive", err)
	}
}

func TestKeyOnlyWhileActive(t *testing.T) {
	a, b := newPair(t, Config{}, Config{})
	if a.Key() != nil {
		t.Error("fresh session exposed a key")
	}
	completeHandshake(t, a, b)

	key := a.Key()
	if key == nil {
		t.Fatal("active session returned no key")
	}
	// The returned slice is a copy.
	key[0] ^= 0xFF
	if bytes.Equal(key, a.Key()) {
		t.Error("Key() returned the internal buffer")
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateIdle:            "IDLE",
		StateRequested:       "REQUESTED",
		StateExchanging:      "EXCHANGING",
		StateSifted:          "SIFTED",
		StateQBERCheck:       "QBER_CHECK",
		StateErrorCorrection: "ERROR_CORRECTION",
		StateKeyConfirm:      "KEY_CONFIRM",
		StateActive:          "ACTIVE",
		StateTerminated:      "TERMINATED",
		State(99):            "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
	if !StateTerminated.Terminal() || StateActive.Terminal() {
		t.Error("Terminal() misclassifies states")
	}
	if RoleInitiator.String() != "initiator" || RoleResponder.String() != "responder" {
		t.Error("Role.String() misnames roles")
	}
}
