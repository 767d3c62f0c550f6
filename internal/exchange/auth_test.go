package exchange

import "testing"

func TestSignerHeadersIncludesAPIKey(t *testing.T) {
	t.Parallel()
	s := NewSigner(Credentials{APIKey: "key123", Secret: "c2VjcmV0", Passphrase: "pass"})
	h := s.Headers("POST", "/orders", `{"qty":1}`)

	if h["X-API-KEY"] != "key123" {
		t.Errorf("X-API-KEY = %q, want key123", h["X-API-KEY"])
	}
	if h["X-PASSPHRASE"] != "pass" {
		t.Errorf("X-PASSPHRASE = %q, want pass", h["X-PASSPHRASE"])
	}
	if h["X-SIGNATURE"] == "" {
		t.Error("expected non-empty signature")
	}
	if h["X-TIMESTAMP"] == "" {
		t.Error("expected non-empty timestamp")
	}
}

func TestSignerIsDeterministicGivenSameTimestamp(t *testing.T) {
	t.Parallel()
	s := NewSigner(Credentials{APIKey: "k", Secret: "c2VjcmV0"})
	sig1 := s.sign("1700000000000", "POST", "/orders", "body")
	sig2 := s.sign("1700000000000", "POST", "/orders", "body")
	if sig1 != sig2 {
		t.Errorf("sign() not deterministic for identical inputs: %q vs %q", sig1, sig2)
	}
}

func TestSignerDiffersByPath(t *testing.T) {
	t.Parallel()
	s := NewSigner(Credentials{APIKey: "k", Secret: "c2VjcmV0"})
	sigA := s.sign("1700000000000", "POST", "/orders", "")
	sigB := s.sign("1700000000000", "POST", "/cancel-all", "")
	if sigA == sigB {
		t.Error("expected different signatures for different paths")
	}
}

func TestCredentialsHasCredentials(t *testing.T) {
	t.Parallel()
	if (Credentials{}).HasCredentials() {
		t.Error("empty credentials should report false")
	}
	if !(Credentials{APIKey: "a", Secret: "b"}).HasCredentials() {
		t.Error("populated credentials should report true")
	}
}
