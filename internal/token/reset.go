package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const purposePasswordReset = "password_reset"

// ErrInvalid is returned for any token that fails verification.
var ErrInvalid = errors.New("invalid reset token")

// ResetClaims are carried by a password reset token. Fingerprint binds the
// token to the credential it replaces, so it stops verifying once used.
type ResetClaims struct {
	jwt.RegisteredClaims
	Purpose     string `json:"purpose"`
	Fingerprint string `json:"fp"`
}

// ResetTokens issues and verifies HMAC-signed password reset tokens.
type ResetTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewResetTokens(secret string, ttl time.Duration) *ResetTokens {
	return &ResetTokens{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL reports how long issued tokens stay valid.
func (t *ResetTokens) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for userID bound to the stored credential.
func (t *ResetTokens) Issue(userID int, storedCredential string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := ResetClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Purpose:     purposePasswordReset,
		Fingerprint: Fingerprint(storedCredential),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign reset token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks signature, expiry and purpose and returns the parsed claims.
// Callers must still compare the fingerprint with the current credential.
func (t *ResetTokens) Verify(tokenString string) (int, ResetClaims, error) {
	claims := ResetClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return 0, ResetClaims{}, ErrInvalid
	}
	if claims.Purpose != purposePasswordReset {
		return 0, ResetClaims{}, ErrInvalid
	}

	userID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || userID < 1 {
		return 0, ResetClaims{}, ErrInvalid
	}
	return userID, claims, nil
}

// Fingerprint derives a short, non-reversible tag from a stored credential.
func Fingerprint(storedCredential string) string {
	sum := sha256.Sum256([]byte(storedCredential))
	return hex.EncodeToString(sum[:8])
}
