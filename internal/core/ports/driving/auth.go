package driving

import "context"

// OperatorClaims identifies an authenticated operator.
type OperatorClaims struct {
	Subject string
	Email   string
}

// AuthService issues and validates operator bearer tokens.
type AuthService interface {
	// Login verifies operator credentials and returns a signed token.
	Login(ctx context.Context, email, password string) (string, error)

	// ValidateToken parses and verifies a bearer token.
	ValidateToken(ctx context.Context, token string) (*OperatorClaims, error)
}
