package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of an agent token. Re-registration is the
// only renewal path.
const DefaultTokenTTL = 365 * 24 * time.Hour

var (
	ErrMissingToken  = errors.New("missing or malformed bearer token")
	ErrInvalidToken  = errors.New("invalid or expired token")
	errMissingSecret = errors.New("JWT_SECRET is not set")
)

// Claims binds a token to one agent and the machine it registered from.
type Claims struct {
	AgentID    string `json:"agentId"`
	EmployeeID string `json:"employeeId"`
	Hostname   string `json:"hostname"`
	Username   string `json:"username"`
	MacAddress string `json:"macAddress"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies agent tokens with an HS256 secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, errMissingSecret
	}
	return &Issuer{secret: []byte(secret), ttl: DefaultTokenTTL, now: time.Now}, nil
}

func (i *Issuer) Issue(claims Claims) (string, error) {
	now := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.AgentID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign agent token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AgentID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) (string, error) {
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
