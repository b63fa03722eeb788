package media

import (
	"errors"
	"time"

	"link-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClaims authorize one member in one room.
type TokenClaims struct {
	jwt.RegisteredClaims
	AppID  string `json:"app_id"`
	Room   string `json:"room"`
	Member string `json:"member"`
}

// Issuer signs room-scoped media tokens.
type Issuer struct {
	appID  string
	secret []byte
	ttl    time.Duration
}

func NewIssuer(cfg config.MediaConfig) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("MEDIA_SECRET is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{appID: cfg.AppID, secret: []byte(cfg.Secret), ttl: ttl}, nil
}

func (i *Issuer) Issue(now time.Time, room, memberID string) (string, error) {
	if room == "" || memberID == "" {
		return "", errors.New("room and member required")
	}
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		AppID:  i.appID,
		Room:   room,
		Member: memberID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks a token and that it was issued for room.
func (i *Issuer) Verify(token, room string, now time.Time) (TokenClaims, error) {
	var claims TokenClaims
	_, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	).ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return i.secret, nil })
	if err != nil {
		return TokenClaims{}, err
	}
	if claims.Room != room {
		return TokenClaims{}, errors.New("token issued for another room")
	}
	return claims, nil
}

func (i *Issuer) TTL() time.Duration { return i.ttl }
