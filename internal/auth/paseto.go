package auth

import (
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
)

// PasetoService handles PASETO v4.local tokens (XChaCha20-Poly1305 with a
// 32 byte symmetric key). Claims and error mapping match JWTService.
type PasetoService struct {
	symmetricKey paseto.V4SymmetricKey
	issuer       string
	now          func() time.Time
}

func NewPasetoService(symmetricKey []byte, issuer string) (*PasetoService, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &PasetoService{
		symmetricKey: key,
		issuer:       issuer,
		now:          time.Now,
	}, nil
}

func (s *PasetoService) CreateToken(claims TokenClaims) (string, error) {
	token := paseto.NewToken()
	token.SetIssuer(s.issuer)
	token.SetSubject(claims.UserID)
	token.SetJti(claims.ID)
	token.SetIssuedAt(claims.IssuedAt)
	token.SetExpiration(claims.ExpiresAt)
	token.SetString("email", claims.Email)
	if len(claims.Custom) > 0 {
		if err := token.Set("ctx", claims.Custom); err != nil {
			return "", fmt.Errorf("failed to set custom claims: %w", err)
		}
	}

	return token.V4Encrypt(s.symmetricKey, nil), nil
}

// VerifyToken decrypts the token, then checks issuer and expiry itself so an
// expired token is reported as expired rather than invalid.
func (s *PasetoService) VerifyToken(tokenStr string) (*TokenClaims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.IssuedBy(s.issuer))

	token, err := parser.ParseV4Local(s.symmetricKey, tokenStr, nil)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	expiresAt, err := token.GetExpiration()
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if !s.now().Before(expiresAt) {
		return nil, ErrTokenExpired
	}

	userID, err := token.GetSubject()
	if err != nil || userID == "" {
		return nil, ErrTokenInvalid
	}
	issuedAt, err := token.GetIssuedAt()
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims := &TokenClaims{
		UserID:    userID,
		Issuer:    s.issuer,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
	claims.Email, _ = token.GetString("email")
	claims.ID, _ = token.GetJti()

	var custom map[string]any
	if err := token.Get("ctx", &custom); err == nil {
		claims.Custom = custom
	}

	return claims, nil
}
