package core

import (
	"testing"
	"time"
)

func TestThread_AppendPreservesOrder(t *testing.T) {
	th := NewThread("chat", time.Hour)
	th.Append(NewCallerTurn("first"))
	th.Append(NewProviderTurn("p1", "second", 10, 20))
	th.Append(NewCallerTurn("third"))

	turns := th.GetTurns()
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Text != "first" || turns[1].Text != "second" || turns[2].Text != "third" {
		t.Fatalf("turns out of order: %+v", turns)
	}
	if turns[1].Role != RoleProvider || turns[1].ProviderID != "p1" {
		t.Errorf("provider turn metadata lost: %+v", turns[1])
	}
}

func TestThread_GetTurnsIsDefensiveCopy(t *testing.T) {
	th := NewThread("chat", time.Hour)
	th.Append(NewCallerTurn("hello"))

	turns := th.GetTurns()
	turns[0].Text = "mutated"
	if th.GetTurns()[0].Text != "hello" {
		t.Error("turn slice should be copied on read")
	}
}

func TestThread_FingerprintTracking(t *testing.T) {
	th := NewThread("chat", time.Hour)
	th.Append(NewCallerTurn("see file", Attachment{Fingerprint: "abc", Text: "content"}))

	if !th.SeenFingerprint("abc") {
		t.Error("fingerprint abc should be recorded")
	}
	if th.SeenFingerprint("def") {
		t.Error("fingerprint def was never referenced")
	}
}

func TestThread_TouchExtendsExpiry(t *testing.T) {
	th := NewThread("chat", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if !th.ExpiredAt(time.Now().UTC()) {
		t.Fatal("thread should be expired")
	}
	th.Touch(time.Hour)
	if th.ExpiredAt(time.Now().UTC()) {
		t.Error("touch should push the deadline forward")
	}
}

func TestThread_CloneDiverges(t *testing.T) {
	th := NewThread("chat", time.Hour)
	th.Append(NewCallerTurn("a", Attachment{Fingerprint: "fp1", Text: "x"}))

	clone := th.Clone()
	if clone == th {
		t.Fatal("clone should be a different pointer")
	}
	clone.Append(NewCallerTurn("b", Attachment{Fingerprint: "fp2", Text: "y"}))
	if th.Len() != 1 {
		t.Error("original should not see clone's appended turn")
	}
	if th.SeenFingerprint("fp2") {
		t.Error("original should not see clone's fingerprint")
	}
}

func TestRestoreThread_RederivesFingerprints(t *testing.T) {
	turns := []Turn{
		NewCallerTurn("a", Attachment{Fingerprint: "fp1", Text: "x"}),
		NewProviderTurn("p1", "b", 1, 2),
	}
	now := time.Now().UTC()
	th := RestoreThread("id-1", "chat", now, now, now.Add(time.Hour), turns)
	if !th.SeenFingerprint("fp1") {
		t.Error("restore should re-derive the fingerprint set from turns")
	}
	if th.Len() != 2 {
		t.Errorf("expected 2 turns, got %d", th.Len())
	}
}
