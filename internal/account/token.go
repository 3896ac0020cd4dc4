package account

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/errors"
)

const tokenIssuer = "kinga"

// Claims are the claims of an access token. Subject holds the user id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the user id carried in the subject.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}

func (s *Service) issueToken(user *entities.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.cfg.JWTTTL)
	claims := Claims{
		Name: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, errors.New(err).
			Component("account").
			Category(errors.CategoryAuthentication).
			Context("operation", "sign_token").
			Build()
	}
	return signed, expires, nil
}

// ParseToken validates an HS256 token issued by this service and returns its claims.
func (s *Service) ParseToken(token string) (*Claims, error) {
	if s.cfg.JWTSecret == "" {
		return nil, ErrTokensDisabled
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(s.cfg.JWTSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}
