package vmm

import "testing"

func TestNewIDRejectsEmpty(t *testing.T) {
	if _, err := NewID(""); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestNewIDRejectsInvalidCharacters(t *testing.T) {
	for _, s := range []string{"has space", "has/slash", "has.dot"} {
		if _, err := NewID(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestNewIDAcceptsValid(t *testing.T) {
	id, err := NewID("vm_1-abc")
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if id.String() != "vm_1-abc" {
		t.Fatalf("got %q", id.String())
	}
}

func TestNewRandomIDIsValid(t *testing.T) {
	id := NewRandomID()
	if _, err := NewID(id.String()); err != nil {
		t.Fatalf("random id %q failed validation: %v", id.String(), err)
	}
}

func TestNewRandomIDsAreUnique(t *testing.T) {
	a, b := NewRandomID(), NewRandomID()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}
