package smtpsend

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// AuthMechanism selects how smtpsend authenticates to a relay before MAIL
// FROM, the client-side mirror of the AUTH mechanisms maddy's own SMTP
// endpoint accepts from inbound connections (internal/endpoint/smtp).
type AuthMechanism string

const (
	AuthOff      AuthMechanism = "off"
	AuthPlain    AuthMechanism = "plain"
	AuthLogin    AuthMechanism = "login"
	AuthCramMD5  AuthMechanism = "cram-md5"
	AuthExternal AuthMechanism = "external"
)

// AuthConfig describes how to authenticate to a relay; grounded on
// target/smtp_downstream/sasl.go's saslAuthDirective, which builds a
// sasl.Client from a directive's first argument the same way this builds one
// from Mechanism.
type AuthConfig struct {
	Mechanism AuthMechanism
	Username  string
	Password  string
}

// Client builds the go-sasl client for this configuration, or nil if
// authentication is disabled.
func (a AuthConfig) Client() (sasl.Client, error) {
	switch a.Mechanism {
	case "", AuthOff:
		return nil, nil
	case AuthPlain:
		return sasl.NewPlainClient("", a.Username, a.Password), nil
	case AuthLogin:
		return sasl.NewLoginClient(a.Username, a.Password), nil
	case AuthCramMD5:
		return sasl.NewCramMD5Client(a.Username, a.Password), nil
	case AuthExternal:
		return sasl.NewExternalClient(""), nil
	default:
		return nil, fmt.Errorf("smtpsend: unknown auth mechanism: %s", a.Mechanism)
	}
}
