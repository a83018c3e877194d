package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// Auth validates incoming JWT tokens and, in local mode, issues them.
// By default tokens are signed and verified with an HS256 shared secret
// (the /api/auth endpoints are the issuer). When a JWKS is provided the
// verifier switches to RS256 against the external identity provider and
// IssueToken is unavailable.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	Secret   []byte
	TokenTTL time.Duration

	parser *jwt.Parser
}

// NewAuth creates an Auth verifying HS256 tokens with secret.
func NewAuth(secret []byte, tokenTTL time.Duration) *Auth {
	if len(secret) == 0 {
		panic("api.NewAuth: empty secret")
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Auth{
		Secret:   secret,
		TokenTTL: tokenTTL,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// NewJWKSAuth creates an Auth verifying RS256 tokens against an
// external JWKS endpoint.
func NewJWKSAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	if jwks == nil {
		panic("api.NewJWKSAuth: nil jwks")
	}
	return &Auth{
		JWKS:     jwks,
		Audience: audience,
		Issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
	}
}

// IssueToken signs a token for the given user. Only available in local
// HS256 mode.
func (a *Auth) IssueToken(userID int64) (string, error) {
	if len(a.Secret) == 0 {
		return "", errors.New("token issuing requires local auth mode")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"exp": now.Add(a.TokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// UserIDFromAuthHeader extracts the user identifier from the
// Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (int64, error) {
	token, err := bearerToken(h)
	if err != nil {
		return 0, err
	}

	var parsed *jwt.Token
	if a.JWKS != nil {
		parsed, err = a.parser.Parse(token, a.JWKS.Keyfunc)
	} else {
		parsed, err = a.parser.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.Secret, nil
		})
	}
	if err != nil {
		return 0, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid claims")
	}
	now := time.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return 0, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return 0, errors.New("token not valid yet")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return 0, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return 0, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return 0, errors.New("missing sub")
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, errors.New("malformed sub")
	}
	return userID, nil
}

func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return "", errBadAuthorization
	}
	token := raw[len(prefix):]
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
