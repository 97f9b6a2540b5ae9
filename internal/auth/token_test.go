package auth

import "testing"

func TestNewTokenIsUniqueAndWellFormed(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	b, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens")
	}
	if err := ValidateShape(a); err != nil {
		t.Fatalf("ValidateShape rejected fresh token: %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	token, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if HashToken(token) != HashToken(token) {
		t.Fatalf("expected stable hash")
	}
	if HashToken(token) == token {
		t.Fatalf("hash must differ from token")
	}
}

func TestValidateShapeRejectsGarbage(t *testing.T) {
	cases := []string{"", "   ", "not-base64!!", "c2hvcnQ", "Bearer abc"}
	for _, tc := range cases {
		if err := ValidateShape(tc); err == nil {
			t.Errorf("expected rejection for %q", tc)
		}
	}
}
