// Package turnrest mints coturn-compatible ephemeral TURN credentials
// ("TURN REST API", draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// The expiry is computed from the server clock in UTC.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Now and IDSource are overridable for tests.
	Now      func() time.Time
	IDSource func() (string, error)
}

type Generator struct {
	sharedSecret   []byte
	ttl            int64
	usernamePrefix string
	now            func() time.Time
	idSource       func() (string, error)
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, errors.New("shared secret is required")
	case cfg.TTLSeconds <= 0:
		return nil, errors.New("TTLSeconds must be > 0")
	case cfg.UsernamePrefix == "":
		return nil, errors.New("UsernamePrefix is required")
	case strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}

	g := &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttl:            cfg.TTLSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
		idSource:       cfg.IDSource,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.idSource == nil {
		g.idSource = func() (string, error) { return uuid.NewString(), nil }
	}
	return g, nil
}

// Generate mints credentials bound to id, which is typically a peer id.
func (g *Generator) Generate(id string) (Credentials, error) {
	if id == "" {
		return Credentials{}, errors.New("id is required")
	}
	if strings.Contains(id, ":") {
		return Credentials{}, errors.New("id must not contain ':'")
	}
	expiry := g.now().UTC().Unix() + g.ttl
	username := fmt.Sprintf("%d:%s:%s", expiry, g.usernamePrefix, id)

	mac := hmac.New(sha1.New, g.sharedSecret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}

func (g *Generator) GenerateRandom() (Credentials, error) {
	id, err := g.idSource()
	if err != nil {
		return Credentials{}, err
	}
	return g.Generate(id)
}

// Apply returns a copy of servers where every server carrying a TURN url uses
// creds. STUN-only servers are left untouched.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if hasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		scheme, _, _ := strings.Cut(strings.TrimSpace(url), ":")
		if strings.EqualFold(scheme, "turn") || strings.EqualFold(scheme, "turns") {
			return true
		}
	}
	return false
}
