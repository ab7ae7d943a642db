package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomToken(t *testing.T) {
	const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	for _, length := range []int{1, 8, 32} {
		tok := GenerateRandomToken(length)
		if len(tok) != length {
			t.Errorf("length %d: got %d characters (%q)", length, len(tok), tok)
		}
		for _, c := range tok {
			if !strings.ContainsRune(alphabet, c) {
				t.Errorf("token %q contains %q outside the unambiguous alphabet", tok, c)
			}
		}
	}
}

func TestGenerateRandomTokenExcludesAmbiguousCharacters(t *testing.T) {
	// 0/O and 1/I are never produced; sample enough tokens to be convincing.
	for i := 0; i < 100; i++ {
		tok := GenerateRandomToken(16)
		if strings.ContainsAny(tok, "01OI") {
			t.Fatalf("token %q contains an ambiguous character", tok)
		}
	}
}

func TestGenerateOrderNumber(t *testing.T) {
	n := GenerateOrderNumber()
	if !strings.HasPrefix(n, "PF-") {
		t.Errorf("order number %q missing PF- prefix", n)
	}
	if len(n) != len("PF-")+8 {
		t.Errorf("order number %q has unexpected length %d", n, len(n))
	}
}

func TestGenerateIDs(t *testing.T) {
	cid := GenerateContactID()
	if !strings.HasPrefix(cid, "c_") || len(cid) <= 2 {
		t.Errorf("contact ID = %q", cid)
	}
	oid := GenerateOrderID()
	if !strings.HasPrefix(oid, "o_") || len(oid) <= 2 {
		t.Errorf("order ID = %q", oid)
	}
	if GenerateContactID() == cid {
		t.Error("contact IDs must be unique")
	}
}
