package relay

import (
	"errors"
	"testing"
	"time"
)

func TestDeduplicator_NextID(t *testing.T) {
	d := NewDeduplicator("node-1", 0)
	first, second := d.NextID(), d.NextID()

	if first.NodeID != "node-1" || first.Seq != 1 || second.Seq != 2 {
		t.Errorf("ids = %v, %v", first, second)
	}
	if first.String() != "node-1-1" {
		t.Errorf("String() = %q", first.String())
	}
	if d.ttl != DefaultDedupTTL {
		t.Errorf("ttl = %v, want default", d.ttl)
	}
}

func TestDeduplicator_Seen(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewDeduplicator("node-1", time.Minute)
	d.now = func() time.Time { return now }

	id := ID{NodeID: "node-2", Seq: 1}
	if d.Seen(id) {
		t.Fatal("first Seen should be false")
	}
	if !d.Seen(id) {
		t.Fatal("second Seen should be true")
	}

	now = now.Add(2 * time.Minute)
	if d.Seen(id) {
		t.Error("expired id should be accepted again")
	}
}

func TestDeduplicator_CleansExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewDeduplicator("node-1", time.Second)
	d.now = func() time.Time { return now }
	d.lastCleanup = now

	for i := 1; i < 100; i++ {
		d.Seen(ID{NodeID: "node-2", Seq: uint64(i)})
	}
	now = now.Add(time.Minute)
	// 第100次记录触发清理
	d.Seen(ID{NodeID: "node-2", Seq: 100})

	if n := d.Len(); n != 1 {
		t.Errorf("cache size after cleanup = %d, want 1", n)
	}
}

func TestUnmarshalEnvelope(t *testing.T) {
	env := Envelope{ID: ID{NodeID: "n", Seq: 3}, Payload: "[id]: hi", SentAt: time.Unix(5, 0).UTC()}
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if got.ID != env.ID || got.Payload != env.Payload || !got.SentAt.Equal(env.SentAt) {
		t.Errorf("got %+v", got)
	}

	for _, bad := range []string{"", "{", `{"id":{"node_id":"n"}}`} {
		if _, err := UnmarshalEnvelope([]byte(bad)); !errors.Is(err, ErrBadEnvelope) {
			t.Errorf("UnmarshalEnvelope(%q) = %v", bad, err)
		}
	}
}
