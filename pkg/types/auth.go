package types

// Cookie is a browser cookie in the shape exported by common browser extensions.
type Cookie struct {
	Name     string  `json:"name" yaml:"name"`
	Value    string  `json:"value" yaml:"value"`
	Domain   string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	Path     string  `json:"path,omitempty" yaml:"path,omitempty"`
	SameSite string  `json:"sameSite,omitempty" yaml:"same_site,omitempty"`
	Expires  float64 `json:"expirationDate,omitempty" yaml:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty" yaml:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty" yaml:"secure,omitempty"`
}

// Credentials are supplied per run and never persisted.
// Zero value means "log in interactively".
type Credentials struct {
	Email    string   `json:"email,omitempty"`
	Password string   `json:"password,omitempty"`
	Cookies  []Cookie `json:"cookies,omitempty"`
}

// HasCookies reports whether cookie injection can be attempted.
func (c Credentials) HasCookies() bool {
	return len(c.Cookies) > 0
}

// HasPassword reports whether credential submission can be attempted.
func (c Credentials) HasPassword() bool {
	return c.Email != "" && c.Password != ""
}

// AuthStatus is the state of an authentication attempt.
type AuthStatus string

const (
	AuthStatusUnauthenticated      AuthStatus = "unauthenticated"        // AuthStatusUnauthenticated means no login has succeeded yet.
	AuthStatusAwaitingSecondFactor AuthStatus = "awaiting_second_factor" // AuthStatusAwaitingSecondFactor means the password was accepted and a one-time code is pending.
	AuthStatusAuthenticated        AuthStatus = "authenticated"          // AuthStatusAuthenticated means the browser holds a logged-in session.
)

// AuthMethod names the strategy that produced an authenticated session.
type AuthMethod string

const (
	AuthMethodCookies     AuthMethod = "cookies"
	AuthMethodCredentials AuthMethod = "credentials"
	AuthMethodInteractive AuthMethod = "interactive"
	AuthMethodManual      AuthMethod = "manual"
)
