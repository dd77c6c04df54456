// Package auth выпускает и проверяет bearer-токены сессий и хеширует пароли.
//
// Токен состоит из CBOR-полезной нагрузки и подписи Ed25519, склеенных и
// закодированных в base64url без выравнивания.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

const signatureSize = ed25519.SignatureSize

var (
	ErrMissingToken     = errors.New("auth: missing bearer token")
	ErrMalformedToken   = errors.New("auth: malformed token")
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrTokenExpired     = errors.New("auth: token has expired")
)

// Claims полезная нагрузка токена
type Claims struct {
	Subject   string `cbor:"1,keyasint"`
	Role      string `cbor:"2,keyasint"`
	ID        string `cbor:"3,keyasint"`
	IssuedAt  int64  `cbor:"4,keyasint"`
	ExpiresAt int64  `cbor:"5,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("auth: CBOR encoder initialization failed: " + err.Error())
	}
}

// Issuer выпускает и проверяет токены одним ключом
type Issuer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	now     func() time.Time
}

// NewIssuer создает Issuer. seed это base64 (std) seed ключа Ed25519; пустой seed
// означает новый случайный ключ, и тогда токены не переживут перезапуск.
func NewIssuer(seed string, ttl time.Duration) (*Issuer, error) {
	var private ed25519.PrivateKey
	if seed == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generating signing key: %w", err)
		}
		private = priv
	} else {
		raw, err := base64.StdEncoding.DecodeString(seed)
		if err != nil {
			return nil, fmt.Errorf("auth: decoding signing key: %w", err)
		}
		if len(raw) != ed25519.SeedSize {
			return nil, fmt.Errorf("auth: signing key must be %d bytes, got %d", ed25519.SeedSize, len(raw))
		}
		private = ed25519.NewKeyFromSeed(raw)
	}

	return &Issuer{
		private: private,
		public:  private.Public().(ed25519.PublicKey),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Mint выпускает токен для пользователя
func (i *Issuer) Mint(userID, role string) (string, error) {
	now := i.now()
	claims := Claims{
		Subject:   userID,
		Role:      role,
		ID:        uuid.NewString(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.ttl).Unix(),
	}

	payload, err := encMode.Marshal(&claims)
	if err != nil {
		return "", fmt.Errorf("auth: encoding token payload: %w", err)
	}

	signature := ed25519.Sign(i.private, payload)

	raw := make([]byte, len(payload)+signatureSize)
	copy(raw, payload)
	copy(raw[len(payload):], signature)

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Verify проверяет подпись и срок действия токена
func (i *Issuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) <= signatureSize {
		return nil, ErrMalformedToken
	}

	split := len(raw) - signatureSize
	payload, signature := raw[:split], raw[split:]

	if !ed25519.Verify(i.public, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var claims Claims
	if err := cbor.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if i.now().Unix() >= claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	if claims.Subject == "" {
		return nil, ErrMalformedToken
	}

	return &claims, nil
}

// BearerToken извлекает токен из значения заголовка Authorization. Префикс
// "Bearer " необязателен.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
