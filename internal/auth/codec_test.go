package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testIssuer = "https://dine.test"
)

func newTestJWT(t *testing.T) *JWTService {
	t.Helper()
	s, err := NewJWTService([]byte(testSecret), testIssuer)
	require.NoError(t, err)
	return s
}

func newTestPaseto(t *testing.T) *PasetoService {
	t.Helper()
	s, err := NewPasetoService([]byte(testSecret), testIssuer)
	require.NoError(t, err)
	return s
}

func sampleClaims(now time.Time) TokenClaims {
	return TokenClaims{
		UserID:    uuid.NewString(),
		Email:     "lerato@example.com",
		ID:        uuid.NewString(),
		IssuedAt:  now.Truncate(time.Second),
		ExpiresAt: now.Truncate(time.Second).Add(15 * time.Minute),
		Custom:    map[string]any{"household": "mokoena"},
	}
}

type codecCase struct {
	name    string
	svc     TokenService
	setTime func(func() time.Time)
}

func TestCodecs(t *testing.T) {
	j := newTestJWT(t)
	p := newTestPaseto(t)
	cases := []codecCase{
		{"jwt", j, func(f func() time.Time) { j.now = f }},
		{"paseto", p, func(f func() time.Time) { p.now = f }},
	}

	for _, c := range cases {
		name := c.name
		t.Run(name+"/round trip", func(t *testing.T) {
			c.setTime(time.Now)
			in := sampleClaims(time.Now())

			token, err := c.svc.CreateToken(in)
			require.NoError(t, err)

			out, err := c.svc.VerifyToken(token)
			require.NoError(t, err)
			assert.Equal(t, in.UserID, out.UserID)
			assert.Equal(t, in.Email, out.Email)
			assert.Equal(t, in.ID, out.ID)
			assert.Equal(t, testIssuer, out.Issuer)
			assert.True(t, in.ExpiresAt.Equal(out.ExpiresAt))
			assert.True(t, in.IssuedAt.Equal(out.IssuedAt))
			assert.Equal(t, "mokoena", out.Custom["household"])
		})

		t.Run(name+"/expired", func(t *testing.T) {
			c.setTime(time.Now)
			token, err := c.svc.CreateToken(sampleClaims(time.Now()))
			require.NoError(t, err)

			c.setTime(func() time.Time { return time.Now().Add(time.Hour) })
			defer c.setTime(time.Now)

			_, err = c.svc.VerifyToken(token)
			require.ErrorIs(t, err, ErrTokenExpired)
		})

		t.Run(name+"/tampered", func(t *testing.T) {
			c.setTime(time.Now)
			token, err := c.svc.CreateToken(sampleClaims(time.Now()))
			require.NoError(t, err)

			i := len(token) - 5
			swap := byte('A')
			if token[i] == 'A' {
				swap = 'B'
			}
			_, err = c.svc.VerifyToken(token[:i] + string(swap) + token[i+1:])
			require.ErrorIs(t, err, ErrTokenInvalid)
		})

		t.Run(name+"/garbage", func(t *testing.T) {
			for _, s := range []string{"", "not-a-token", "a.b.c", "v4.local.AAAA"} {
				_, err := c.svc.VerifyToken(s)
				require.ErrorIs(t, err, ErrTokenInvalid, s)
			}
		})
	}
}

func TestNewJWTService_Validation(t *testing.T) {
	_, err := NewJWTService([]byte("short"), testIssuer)
	require.Error(t, err)

	_, err = NewJWTService([]byte(testSecret), "")
	require.Error(t, err)
}

func TestJWT_RejectsOtherAlgorithms(t *testing.T) {
	s := newTestJWT(t)
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.VerifyToken(none)
	require.ErrorIs(t, err, ErrTokenInvalid)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = s.VerifyToken(hs512)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestJWT_RejectsWrongIssuerAndSecret(t *testing.T) {
	s := newTestJWT(t)

	other, err := NewJWTService([]byte(testSecret), "https://elsewhere.test")
	require.NoError(t, err)
	token, err := other.CreateToken(sampleClaims(time.Now()))
	require.NoError(t, err)
	_, err = s.VerifyToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	other, err = NewJWTService([]byte(strings.Repeat("x", 32)), testIssuer)
	require.NoError(t, err)
	token, err = other.CreateToken(sampleClaims(time.Now()))
	require.NoError(t, err)
	_, err = s.VerifyToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestJWT_RequiresExpiry(t *testing.T) {
	s := newTestJWT(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), Issuer: testIssuer},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = s.VerifyToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestPaseto_RejectsWrongKeyAndIssuer(t *testing.T) {
	s := newTestPaseto(t)

	_, err := NewPasetoService([]byte("short"), testIssuer)
	require.Error(t, err)

	other, err := NewPasetoService([]byte(strings.Repeat("k", 32)), testIssuer)
	require.NoError(t, err)
	token, err := other.CreateToken(sampleClaims(time.Now()))
	require.NoError(t, err)
	_, err = s.VerifyToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	other, err = NewPasetoService([]byte(testSecret), "https://elsewhere.test")
	require.NoError(t, err)
	token, err = other.CreateToken(sampleClaims(time.Now()))
	require.NoError(t, err)
	_, err = s.VerifyToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
