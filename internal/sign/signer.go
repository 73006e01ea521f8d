// Package sign computes per-venue request and login signatures.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Credential holds the API identity for one venue adapter. It is immutable
// after construction and owned exclusively by that adapter.
type Credential struct {
	key        string
	secret     string
	passphrase string
}

// NewCredential builds a credential from key material. The passphrase is empty
// for venues that do not use one.
func NewCredential(key, secret, passphrase string) Credential {
	return Credential{key: key, secret: secret, passphrase: passphrase}
}

// Key returns the API key identity attached to signed requests.
func (c Credential) Key() string { return c.key }

// Passphrase returns the venue login passphrase, if any. It belongs in the
// login payload only, never in a signature input.
func (c Credential) Passphrase() string { return c.passphrase }

// Empty reports whether no credential material is configured.
func (c Credential) Empty() bool { return c.key == "" && c.secret == "" }

// String redacts key material from accidental formatting.
func (c Credential) String() string { return "sign.Credential(redacted)" }

// Signer produces hex-encoded HMAC-SHA256 signatures over venue-defined
// canonical strings.
type Signer struct {
	cred Credential
}

// NewSigner constructs a signer bound to the given credential.
func NewSigner(cred Credential) *Signer {
	return &Signer{cred: cred}
}

// Credential returns the bound credential.
func (s *Signer) Credential() Credential { return s.cred }

// SignREST signs an outbound REST request. The canonical string is
// timestamp + key + recvWindow + query + body; query covers GET requests and
// body covers POST requests, each empty when unused.
func (s *Signer) SignREST(timestamp int64, recvWindow int, query, body string) string {
	payload := strconv.FormatInt(timestamp, 10) + s.cred.key + strconv.Itoa(recvWindow) + query + body
	return s.hex(payload)
}

// SignWS signs a websocket login payload. The canonical string is
// method + path + timestamp; neither the key nor a body participates.
func (s *Signer) SignWS(method, path string, timestamp int64) string {
	payload := method + path + strconv.FormatInt(timestamp, 10)
	return s.hex(payload)
}

func (s *Signer) hex(payload string) string {
	mac := hmac.New(sha256.New, []byte(s.cred.secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
