package auth

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/codereplay/backend/internal/models"
)

const (
	// CookieName is the session cookie set by the frontend over plain http.
	CookieName = "next-auth.session-token"
	// SecureCookieName is used when the frontend is served over https.
	SecureCookieName = "__Secure-next-auth.session-token"

	keyInfo   = "NextAuth.js Generated Encryption Key"
	keyLength = 32
	// ClockSkew is the leeway applied to exp/nbf/iat.
	ClockSkew = 15 * time.Second
)

var (
	// ErrNoSession means the request carried no session token.
	ErrNoSession = errors.New("no session")
	// ErrInvalidToken means a token was present but could not be verified.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the session payload shared with the frontend.
type Claims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// SessionResolver turns session tokens into identities. It accepts the encrypted session token the
// frontend's auth library sets as a cookie (compact JWE, dir + A256GCM) and signed HS256 tokens
// minted by Issue for API clients. Both are keyed by DeriveKey(secret).
type SessionResolver struct {
	key    []byte
	cookie string
	now    func() time.Time
}

// DeriveKey derives the session encryption and signing key from the shared secret.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("empty session secret")
	}
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// NewSessionResolver creates a resolver. secure selects the __Secure- cookie name.
func NewSessionResolver(secret string, secure bool) (*SessionResolver, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	cookie := CookieName
	if secure {
		cookie = SecureCookieName
	}
	return &SessionResolver{key: key, cookie: cookie, now: time.Now}, nil
}

// CookieName returns the name of the cookie this resolver reads.
func (s *SessionResolver) CookieName() string { return s.cookie }

// Issue mints a signed bearer token for id that expires after ttl.
func (s *SessionResolver) Issue(id models.Identity, ttl time.Duration) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, s.claims(id, ttl)).SignedString(s.key)
}

// Seal produces an encrypted session token for id, in the format of the frontend's session cookie.
func (s *SessionResolver) Seal(id models.Identity, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(s.claims(id, ttl))
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: s.key}, nil)
	if err != nil {
		return "", fmt.Errorf("session encrypter: %w", err)
	}
	obj, err := enc.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("encrypt session: %w", err)
	}
	return obj.CompactSerialize()
}

func (s *SessionResolver) claims(id models.Identity, ttl time.Duration) *Claims {
	now := s.now()
	return &Claims{
		Email:   id.Email,
		Name:    id.Name,
		Picture: id.Picture,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
}

// Resolve verifies token and returns the identity it carries. Five dot-separated segments mean an
// encrypted session token, three a signed one.
func (s *SessionResolver) Resolve(token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, ErrNoSession
	}
	var (
		claims *Claims
		err    error
	)
	switch strings.Count(token, ".") {
	case 4:
		claims, err = s.decrypt(token)
	case 2:
		claims, err = s.verify(token)
	default:
		err = errors.New("malformed token")
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Email == "" {
		return models.Identity{}, fmt.Errorf("%w: no email claim", ErrInvalidToken)
	}
	return models.Identity{Email: claims.Email, Name: claims.Name, Picture: claims.Picture}, nil
}

func (s *SessionResolver) decrypt(token string) (*Claims, error) {
	obj, err := jose.ParseEncrypted(token, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, err
	}
	payload, err := obj.Decrypt(s.key)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	validator := jwt.NewValidator(jwt.WithLeeway(ClockSkew), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err := validator.Validate(&claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (s *SessionResolver) verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(ClockSkew),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("unexpected claims")
	}
	return claims, nil
}

// FromRequest reads the session cookie, falling back to an Authorization bearer token.
func (s *SessionResolver) FromRequest(r *http.Request) (models.Identity, error) {
	if c, err := r.Cookie(s.cookie); err == nil && c.Value != "" {
		return s.Resolve(c.Value)
	}
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return s.Resolve(parts[1])
		}
	}
	return models.Identity{}, ErrNoSession
}
