package transporthttp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"strings"

	"github.com/MaheshSundaramurthy/botmetrics/internal/serializer"
)

var errBadSignature = errors.New("missing or invalid webhook signature")

// providerSignature describes how a provider signs its callbacks.
type providerSignature struct {
	header string
	prefix string
	hash   func() hash.Hash
}

var signatures = map[serializer.Provider]providerSignature{
	// hex HMAC-SHA1 of the body keyed by the bot's API key
	serializer.Kik: {header: "X-Kik-Signature", hash: sha1.New},
	// "sha256=" + hex HMAC-SHA256 keyed by the app secret
	serializer.Facebook: {header: "X-Hub-Signature-256", prefix: "sha256=", hash: sha256.New},
}

// verifySignature checks the provider's HMAC header against body.
func verifySignature(p serializer.Provider, header http.Header, body []byte, secret string) error {
	sig, ok := signatures[p]
	if !ok {
		return errBadSignature
	}
	got := header.Get(sig.header)
	if sig.prefix != "" {
		if !strings.HasPrefix(got, sig.prefix) {
			return errBadSignature
		}
		got = strings.TrimPrefix(got, sig.prefix)
	}
	want, err := hex.DecodeString(strings.ToLower(got))
	if err != nil || len(want) == 0 {
		return errBadSignature
	}
	mac := hmac.New(sig.hash, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return errBadSignature
	}
	return nil
}

// webhookSecret is the configured signing secret for p, empty when unset.
func (d *ServerDeps) webhookSecret(p serializer.Provider) string {
	switch p {
	case serializer.Kik:
		return d.Cfg.Hooks.KikAPIKey
	case serializer.Facebook:
		return d.Cfg.Hooks.FacebookAppSecret
	}
	return ""
}

// authenticateWebhook verifies the provider signature when a secret is
// configured. Without one the request must carry a configured API key, and
// with no API keys either the callback is accepted unauthenticated.
func (d *ServerDeps) authenticateWebhook(p serializer.Provider, r *http.Request, body []byte) error {
	if secret := d.webhookSecret(p); secret != "" {
		return verifySignature(p, r.Header, body, secret)
	}
	return d.requireAPIKey(r)
}

// requireAPIKey is the fallback for callbacks without a signing secret.
func (d *ServerDeps) requireAPIKey(r *http.Request) error {
	keys := d.Cfg.APIKeySet()
	if len(keys) == 0 {
		return nil
	}
	if _, ok := keys[r.Header.Get("X-API-Key")]; !ok {
		return errBadSignature
	}
	return nil
}

// warnUnverified logs the callback routes that accept unauthenticated requests.
func (d *ServerDeps) warnUnverified() {
	if len(d.Cfg.HTTP.APIKeys) > 0 {
		return
	}
	var open []string
	if d.Cfg.Slack.SigningSecret == "" {
		open = append(open, "slack")
	}
	for _, p := range serializer.Providers {
		if d.webhookSecret(p) == "" {
			open = append(open, string(p))
		}
	}
	if len(open) > 0 {
		d.log.Warn().Strs("providers", open).Msg("webhook signature verification disabled")
	}
}
