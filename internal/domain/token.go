package domain

// Principal types carried in signed claims.
const (
	PrincipalUser    = "user"
	PrincipalService = "service"
	PrincipalClient  = "client"
)

// Scopes checked by the HTTP surface. ScopeAdmin grants every other scope.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// Principal is the verified identity behind a bearer token.
type Principal struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Scopes  []string `json:"scopes"`
	Type    string   `json:"type"`
}

// HasScope reports whether the principal holds scope or the admin scope.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}
