package web

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// HeaderTimestamp is the unix time in seconds the request was signed at.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce makes every signed request unique within the replay window.
	HeaderNonce = "X-Nonce"
	// HeaderPubKey is the base64 compressed secp256k1 key of the account named in the body.
	HeaderPubKey = "X-Pub-Key"
	// HeaderSignature is the base64 signature over SignedPayload.
	HeaderSignature = "X-Signature"

	maxSignedBody      = 1 << 20
	maxTimestampSkew   = 2 * time.Minute
	nonceCacheCapacity = 4096
)

var errUnauthenticated = errors.New("request is not signed by the account it names")

// SignedPayload is what a caller signs: timestamp, nonce, method, path and body joined by newlines.
func SignedPayload(timestamp, nonce, method, path string, body []byte) []byte {
	return []byte(strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n"))
}

// signatureVerifier checks that a request was signed by the key behind an account address.
type signatureVerifier struct {
	now func() time.Time

	mu     sync.Mutex
	nonces *expirable.LRU[string, struct{}]
}

func newSignatureVerifier(now func() time.Time) *signatureVerifier {
	if now == nil {
		now = time.Now
	}
	return &signatureVerifier{
		now: now,
		// A nonce only has to outlive the window in which its timestamp is accepted.
		nonces: expirable.NewLRU[string, struct{}](nonceCacheCapacity, nil, 2*maxTimestampSkew),
	}
}

func (v *signatureVerifier) verify(r *http.Request, body []byte, account string) error {
	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if timestamp == "" || nonce == "" {
		return fmt.Errorf("%w: missing %s or %s header", errUnauthenticated, HeaderTimestamp, HeaderNonce)
	}
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp: %v", errUnauthenticated, err)
	}
	skew := v.now().Sub(time.Unix(secs, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("%w: timestamp outside allowed skew of %s", errUnauthenticated, maxTimestampSkew)
	}

	rawKey, err := base64.StdEncoding.DecodeString(r.Header.Get(HeaderPubKey))
	if err != nil || len(rawKey) != secp256k1.PubKeySize {
		return fmt.Errorf("%w: invalid %s header", errUnauthenticated, HeaderPubKey)
	}
	sig, err := base64.StdEncoding.DecodeString(r.Header.Get(HeaderSignature))
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("%w: invalid %s header", errUnauthenticated, HeaderSignature)
	}
	pub := &secp256k1.PubKey{Key: rawKey}

	_, accountBytes, err := bech32.DecodeAndConvert(account)
	if err != nil {
		return fmt.Errorf("%w: account %q is not a bech32 address", errUnauthenticated, account)
	}
	if !bytes.Equal(accountBytes, pub.Address()) {
		return fmt.Errorf("%w: key does not belong to %s", errUnauthenticated, account)
	}
	if !pub.VerifySignature(SignedPayload(timestamp, nonce, r.Method, r.URL.Path, body), sig) {
		return fmt.Errorf("%w: invalid signature", errUnauthenticated)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	key := account + "|" + nonce
	if v.nonces.Contains(key) {
		return fmt.Errorf("%w: nonce already used", errUnauthenticated)
	}
	v.nonces.Add(key, struct{}{})
	return nil
}
