package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Credentials holds the API key triplet used for HMAC-signed requests
// against a KR brokerage or crypto-spot REST API. Generalized from the
// teacher's L2 (HMAC) auth half; conventional API-key/HMAC authentication
// covers both provider kinds in this spec, so the teacher's L1 (EIP-712
// wallet-signing) half has no equivalent here.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

func (c Credentials) HasCredentials() bool {
	return c.APIKey != "" && c.Secret != ""
}

// Signer computes request signatures for HMAC-authenticated REST calls:
// message = timestamp + method + path [+ body], signed with HMAC-SHA256
// over the (base64-decoded, when possible) secret — the same construction
// as the teacher's buildHMAC.
type Signer struct {
	creds Credentials
}

func NewSigner(creds Credentials) *Signer {
	return &Signer{creds: creds}
}

// Headers returns the auth headers for one request.
func (s *Signer) Headers(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return map[string]string{
		"X-API-KEY":    s.creds.APIKey,
		"X-SIGNATURE":  s.sign(timestamp, method, path, body),
		"X-TIMESTAMP":  timestamp,
		"X-PASSPHRASE": s.creds.Passphrase,
	}
}

func (s *Signer) sign(timestamp, method, path, body string) string {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(s.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		// Secret isn't base64; use it as raw key bytes, the common case
		// for brokerage-issued plaintext HMAC secrets.
		secretBytes = []byte(s.creds.Secret)
	}

	message := timestamp + method + path + body
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
