// Package auth handles JWT creation, signing, and verification with a shared
// secret, including lazy secret initialization and claims parsing. Tokens
// carry the actor's identity and tenant; the actor's role and permissions stay
// in the database so role edits apply on the next request without reissuing
// tokens.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims is the token payload. CompanyID binds every request to one tenant.
type Claims struct {
	ActorID   string `json:"actor_id"`
	CompanyID string `json:"company_id"`
	RoleID    string `json:"role_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateJWTSecret checks that the signing secret is configured. In
// production the process refuses to start without PAE_JWT_SECRET; in dev mode
// a random per-process secret is generated and a warning logged. Call at
// startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("PAE_JWT_SECRET")

		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn("PAE_JWT_SECRET not set, using auto-generated secret; sessions will not survive restarts")
			} else {
				jwtSecretErr = errors.New("PAE_JWT_SECRET environment variable is required in production; generate one with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			slog.Warn("PAE_JWT_SECRET is shorter than the recommended 32 characters")
		}
		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated secret, panicking if validation was
// skipped or failed.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT signs a token for one actor within one company.
func GenerateJWT(actorID, companyID, roleID, email string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	claims := &Claims{
		ActorID:   actorID,
		CompanyID: companyID,
		RoleID:    roleID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "access-engine",
			Subject:   actorID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and verifies a token, returning its claims.
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}
