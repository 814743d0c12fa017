package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"ms-commerce-sync/internal/config"
	"ms-commerce-sync/internal/logger"
)

type contextKey string

const subjectKey contextKey = "subject"

// Middleware guards the admin API. With an OIDC issuer configured tokens are
// verified against the provider; otherwise the shared JWT secret signs and
// verifies tokens locally (HS256). One of the two must be configured.
func Middleware(cfg config.AdminConfig, log *logger.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.OIDCIssuer != "" {
		provider, err := oidc.NewProvider(context.Background(), cfg.OIDCIssuer)
		if err != nil {
			return nil, fmt.Errorf("create OIDC provider: %w", err)
		}
		verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
		return oidcMiddleware(verifier, log), nil
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("admin auth requires ADMIN_OIDC_ISSUER or ADMIN_JWT_SECRET")
	}
	return sharedSecretMiddleware(cfg.JWTSecret, log), nil
}

func oidcMiddleware(verifier *oidc.IDTokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			idToken, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("ADMIN_AUTH", fmt.Sprintf("rejected token: %v", err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			var claims struct {
				Sub string `json:"sub"`
			}
			if err := idToken.Claims(&claims); err != nil {
				http.Error(w, "failed to parse claims", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sharedSecretMiddleware(secret string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			sub, err := VerifySharedSecretToken(rawToken, secret)
			if err != nil {
				log.LogSecurity("ADMIN_AUTH", fmt.Sprintf("rejected token: %v", err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject extracts the authenticated subject in handlers.
func Subject(ctx context.Context) string {
	if sub, ok := ctx.Value(subjectKey).(string); ok {
		return sub
	}
	return ""
}

// VerifySharedSecretToken validates an HS256 token against the shared secret
// and returns its subject.
func VerifySharedSecretToken(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("subject claim not found in token")
	}
	return sub, nil
}
