package net

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("malformed pre-auth token")
	ErrTokenExpired   = errors.New("pre-auth token expired")
	ErrTokenSignature = errors.New("pre-auth token signature mismatch")
)

// TokenVerifier checks pre-auth tokens of the form "account|expiry|mac",
// where mac is hex HMAC-SHA256 over "account|expiry" and expiry is unix seconds.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewTokenVerifier returns nil when secret is empty (tokens disabled).
func NewTokenVerifier(secret string) *TokenVerifier {
	if secret == "" {
		return nil
	}
	return &TokenVerifier{secret: []byte(secret), now: time.Now}
}

// Issue mints a token; used by the web auth layer and tests.
func (v *TokenVerifier) Issue(account string, expiry time.Time) string {
	body := account + "|" + strconv.FormatInt(expiry.Unix(), 10)
	return body + "|" + v.sign(body)
}

// Verify returns the account a token is bound to.
func (v *TokenVerifier) Verify(token string) (string, error) {
	i := strings.LastIndexByte(token, '|')
	if i <= 0 {
		return "", ErrTokenMalformed
	}
	body, mac := token[:i], token[i+1:]
	j := strings.LastIndexByte(body, '|')
	if j <= 0 {
		return "", ErrTokenMalformed
	}
	account, expStr := body[:j], body[j+1:]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: expiry %q", ErrTokenMalformed, expStr)
	}
	if !hmac.Equal([]byte(mac), []byte(v.sign(body))) {
		return "", ErrTokenSignature
	}
	if v.now().Unix() > exp {
		return "", ErrTokenExpired
	}
	return account, nil
}

func (v *TokenVerifier) sign(body string) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}
