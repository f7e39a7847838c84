package keystore

import (
	"testing"
	"time"
)

func TestKeyCooldownEndsAtZeroValue(t *testing.T) {
	var k Key
	if got := k.CooldownEndsAt("gpt-4"); !got.IsZero() {
		t.Fatalf("expected zero time for unseen model, got %v", got)
	}
}

func TestKeyIsCoolingForModel(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	k := Key{
		ModelCoolings: map[string]ModelCooldown{
			"gpt-4": {CooldownEndsAtEpochS: now.Add(30 * time.Second).Unix()},
		},
	}

	if !k.IsCoolingForModel("gpt-4", now) {
		t.Fatal("expected key to be cooling for gpt-4 at now")
	}
	if k.IsCoolingForModel("gpt-4", now.Add(time.Minute)) {
		t.Fatal("expected cooldown to have expired one minute later")
	}
	if k.IsCoolingForModel("claude-3", now) {
		t.Fatal("expected no cooldown recorded for a different model")
	}
}

func TestKeyIsCoolingForModelNilReceiver(t *testing.T) {
	var k *Key
	if k.IsCoolingForModel("gpt-4", time.Now()) {
		t.Fatal("nil key must never report a cooldown")
	}
}
