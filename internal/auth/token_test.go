package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	sec := "secret123"
	sid := "abc"
	exp := time.Now().Add(5 * time.Minute).Unix()

	tok, err := GenerateStreamToken(sec, sid, exp)
	if err != nil { t.Fatalf("gen: %v", err) }

	gotSID, gotExp, err := ValidateStreamToken(sec, tok, sid, time.Now(), 60)
	if err != nil { t.Fatalf("validate: %v", err) }
	if gotSID != sid || gotExp != exp {
		t.Fatalf("mismatch: %s/%d", gotSID, gotExp)
	}
}

func TestBadSignature(t *testing.T) {
	sec := "secret123"
	exp := time.Now().Add(5 * time.Minute).Unix()
	tok, _ := GenerateStreamToken(sec, "abc", exp)

	if _, _, err := ValidateStreamToken("other-secret", tok, "abc", time.Now(), 60); err != ErrTokenSig {
		t.Fatalf("expected ErrTokenSig, got %v", err)
	}
	if _, _, err := ValidateStreamToken(sec, "!!not-base64!!", "abc", time.Now(), 60); err != ErrTokenFormat {
		t.Fatalf("expected ErrTokenFormat, got %v", err)
	}
}

func TestWrongSession(t *testing.T) {
	tok, _ := IssueStreamToken("s", "abc", time.Minute, time.Now())
	if _, _, err := ValidateStreamToken("s", tok, "xyz", time.Now(), 0); err != ErrTokenSID {
		t.Fatalf("expected ErrTokenSID, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	now := time.Now()
	tok, _ := IssueStreamToken("s", "abc", time.Minute, now)
	if _, _, err := ValidateStreamToken("s", tok, "abc", now.Add(90*time.Second), 60); err != nil {
		t.Fatalf("within skew should pass, got %v", err)
	}
	if _, _, err := ValidateStreamToken("s", tok, "abc", now.Add(3*time.Minute), 60); err != ErrTokenExp {
		t.Fatalf("expected ErrTokenExp, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	if _, err := GenerateStreamToken("", "abc", 1); err != ErrNoSecret {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}
