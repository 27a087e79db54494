package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultChallengeTTL bounds how long a confirmation link stays valid.
const DefaultChallengeTTL = 15 * time.Minute

// LinkTokenConfig bundles the configuration for the confirmation-link signer.
type LinkTokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  func() time.Time
}

// LinkClaims are embedded in signed confirmation-link tokens. The challenge
// id is the single-use anchor: the signature alone never authenticates a
// confirmation, the durable challenge row must still exist.
type LinkClaims struct {
	UserID      string `json:"uid"`
	ChallengeID string `json:"cid"`
	jwt.RegisteredClaims
}

// LinkTokenService signs and verifies confirmation-link tokens.
type LinkTokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewLinkTokenService constructs the signer used for out-of-band login links.
func NewLinkTokenService(cfg LinkTokenConfig) (*LinkTokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("link token: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &LinkTokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// TTL exposes the configured challenge lifetime.
func (s *LinkTokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token binding the user to the challenge row.
func (s *LinkTokenService) Issue(userID, challengeID string) (string, error) {
	if userID == "" || challengeID == "" {
		return "", errors.New("link token: user id and challenge id are required")
	}

	now := s.now()
	claims := &LinkClaims{
		UserID:      userID,
		ChallengeID: challengeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			ID:        challengeID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("link token: sign: %w", err)
	}

	return signed, nil
}

// Parse verifies a confirmation-link token and returns its claims.
func (s *LinkTokenService) Parse(tokenString string) (*LinkClaims, error) {
	if tokenString == "" {
		return nil, errors.New("link token: token string is empty")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &LinkClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("link token: unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("link token: parse: %w", err)
	}

	claims, ok := parsed.Claims.(*LinkClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("link token: invalid claims")
	}
	if claims.UserID == "" || claims.ChallengeID == "" {
		return nil, errors.New("link token: missing identifiers")
	}

	return claims, nil
}
