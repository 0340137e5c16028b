package metrics

import (
	"testing"

	"github.com/sara-star-quant/qkd-go/pkg/relay"
)

func TestRelayObserverCounters(t *testing.T) {
	c := NewCollector(nil)
	var obs relay.Observer = NewRelayObserver(c, NullLogger())

	obs.OnClientRegistered("alice", 1)
	obs.OnClientRegistered("bob", 2)
	obs.OnClientDisconnected("bob", 1)
	obs.OnFrameRelayed("alice", "bob", 256)
	obs.OnRelayError("alice", "user ghost not found")
	obs.OnConnectionRateLimit("10.0.0.1")
	obs.OnRegisterRateLimit("10.0.0.2")

	snap := c.Snapshot()
	if snap.RelayClients != 1 {
		t.Errorf("expected 1 relay client, got %d", snap.RelayClients)
	}
	if snap.FramesRelayed != 1 {
		t.Errorf("expected 1 frame relayed, got %d", snap.FramesRelayed)
	}
	if snap.RelayBytes != 256 {
		t.Errorf("expected 256 relay bytes, got %d", snap.RelayBytes)
	}
	if snap.RelayErrors != 1 {
		t.Errorf("expected 1 relay error, got %d", snap.RelayErrors)
	}
	if snap.ConnLimitHits != 1 {
		t.Errorf("expected 1 conn limit hit, got %d", snap.ConnLimitHits)
	}
	if snap.RegisterLimitHits != 1 {
		t.Errorf("expected 1 register limit hit, got %d", snap.RegisterLimitHits)
	}
}

func TestRelayObserverDefaults(t *testing.T) {
	// Nil arguments fall back to the package globals without panicking.
	obs := NewRelayObserver(nil, nil)
	if obs == nil {
		t.Fatal("expected non-nil observer")
	}
}
