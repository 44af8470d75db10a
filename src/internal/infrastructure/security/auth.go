// Package security provides the authentication schemes a simulated device presents to the server.
package security

import (
	"errors"
	"net/http"
	"strings"
)

// Scheme identifies an authentication scheme.
type Scheme string

// Supported schemes, in priority order.
const (
	SchemeBasic        Scheme = "basic"
	SchemeGatewayToken Scheme = "gateway_token"
	SchemeTargetToken  Scheme = "target_token"
)

// ErrNoCredentials is returned when no scheme can be built from the credentials.
var ErrNoCredentials = errors.New("no credentials supplied: need username/password, gateway token or target token")

// Authenticator decorates outgoing requests with exactly one scheme.
type Authenticator interface {
	Apply(r *http.Request)
	Scheme() Scheme
}

// Credentials holds every credential a device may be configured with.
type Credentials struct {
	Username     string
	Password     string
	GatewayToken string
	TargetToken  string
}

// NewAuthenticator picks the highest-priority scheme present:
// Basic credentials, then gateway token, then target token.
func NewAuthenticator(c Credentials) (Authenticator, error) {
	switch {
	case c.Username != "":
		return basicAuthenticator{username: c.Username, password: c.Password}, nil
	case strings.TrimSpace(c.GatewayToken) != "":
		return tokenAuthenticator{scheme: SchemeGatewayToken, prefix: "GatewayToken", token: strings.TrimSpace(c.GatewayToken)}, nil
	case strings.TrimSpace(c.TargetToken) != "":
		return tokenAuthenticator{scheme: SchemeTargetToken, prefix: "TargetToken", token: strings.TrimSpace(c.TargetToken)}, nil
	default:
		return nil, ErrNoCredentials
	}
}

type basicAuthenticator struct {
	username string
	password string
}

func (a basicAuthenticator) Apply(r *http.Request) {
	r.SetBasicAuth(a.username, a.password)
}

func (a basicAuthenticator) Scheme() Scheme { return SchemeBasic }

type tokenAuthenticator struct {
	scheme Scheme
	prefix string
	token  string
}

func (a tokenAuthenticator) Apply(r *http.Request) {
	r.Header.Set("Authorization", a.prefix+" "+a.token)
}

func (a tokenAuthenticator) Scheme() Scheme { return a.scheme }
