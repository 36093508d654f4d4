package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type Claims struct {
	AgentID string     `json:"agentId"`
	Email   string     `json:"email"`
	Name    string     `json:"name"`
	Role    types.Role `json:"role"`
	Groups  []string   `json:"groups"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the caller holds the admin role
func (c *Claims) IsAdmin() bool {
	return c != nil && c.Role == types.RoleAdmin
}

// CanAccessAgent reports whether the caller may read or write an agent's documents
func (c *Claims) CanAccessAgent(agentID string) bool {
	if c == nil {
		return false
	}
	return c.IsAdmin() || (c.AgentID != "" && c.AgentID == agentID)
}

type contextKey string

const UserContextKey contextKey = "user"

// JWKSManager handles JWKS fetching and caching
type JWKSManager struct {
	jwks       keyfunc.Keyfunc
	issuerURL  string
	mu         sync.RWMutex
	lastUpdate time.Time
}

var (
	jwksManager *JWKSManager
	jwksOnce    sync.Once
)

// InitJWKS initializes the JWKS manager for token verification.
// Call this on server startup in production mode.
func InitJWKS(issuerURL string) error {
	var initErr error
	jwksOnce.Do(func() {
		jwksManager = &JWKSManager{issuerURL: issuerURL}
		initErr = jwksManager.refresh()
	})
	return initErr
}

func (m *JWKSManager) refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jwksURL := strings.TrimSuffix(m.issuerURL, "/") + "/protocol/openid-connect/certs"
	log.Info().Str("component", "auth").Str("url", jwksURL).Msg("fetching JWKS")

	k, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return fmt.Errorf("failed to create keyfunc: %w", err)
	}

	m.jwks = k
	m.lastUpdate = time.Now()
	log.Info().Str("component", "auth").Msg("JWKS loaded")
	return nil
}

func (m *JWKSManager) getKeyfunc() jwt.Keyfunc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.jwks == nil {
		return nil
	}
	return m.jwks.Keyfunc
}

// Middleware validates JWT tokens from the OIDC provider and stores the
// caller's claims in the request context
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if os.Getenv("SKIP_AUTH") == "true" {
			ctx := context.WithValue(r.Context(), UserContextKey, devClaims(r))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			log.Debug().Str("component", "auth").Msg("missing authorization token")
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		claims, err := validateToken(tokenString)
		if err != nil {
			log.Warn().Str("component", "auth").Err(err).Msg("token validation failed")
			http.Error(w, fmt.Sprintf("Unauthorized: %v", err), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// devClaims builds the caller used when SKIP_AUTH is enabled. The
// X-Dev-Agent and X-Dev-Role headers impersonate a specific agent.
func devClaims(r *http.Request) *Claims {
	claims := &Claims{
		AgentID: "dev",
		Email:   "dev@kpiboard.local",
		Name:    "Dev User",
		Role:    types.RoleAdmin,
	}
	if id := r.Header.Get("X-Dev-Agent"); id != "" {
		claims.AgentID = id
		claims.Name = id
		claims.Role = types.RoleAgent
	}
	if role := r.Header.Get("X-Dev-Role"); role == string(types.RoleAdmin) || role == string(types.RoleAgent) {
		claims.Role = types.Role(role)
	}
	return claims
}

// extractToken gets the token from the Authorization header or the token
// query parameter (used by websocket connections)
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}
	return r.URL.Query().Get("token")
}

func validateToken(tokenString string) (*Claims, error) {
	env := os.Getenv("ENV")
	verifySignature := os.Getenv("VERIFY_JWT_SIGNATURE") == "true"

	// production always verifies
	if env != "development" && env != "" {
		verifySignature = true
	}

	var token *jwt.Token
	var err error

	if verifySignature {
		token, err = parseAndVerifyToken(tokenString)
		if err != nil {
			return nil, err
		}
	} else {
		token, _, err = new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	claims := claimsFromMap(mapClaims)

	// verified tokens have their expiry checked by the parser
	if !verifySignature {
		if exp, ok := mapClaims["exp"].(float64); ok {
			expTime := time.Unix(int64(exp), 0)
			claims.ExpiresAt = jwt.NewNumericDate(expTime)
			if expTime.Before(time.Now()) {
				return nil, fmt.Errorf("token expired")
			}
		}
	}

	if claims.AgentID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func claimsFromMap(mapClaims jwt.MapClaims) *Claims {
	claims := &Claims{}

	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferredUsername, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferredUsername
	}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
		claims.AgentID = sub
	}
	// an explicit agent id claim wins over the subject
	if agentID, ok := mapClaims["agent_id"].(string); ok && agentID != "" {
		claims.AgentID = agentID
	}

	claims.Role = extractRoleFromMapClaims(mapClaims)
	claims.Groups = extractGroupsFromMapClaims(mapClaims)
	return claims
}

func parseAndVerifyToken(tokenString string) (*jwt.Token, error) {
	if jwksManager == nil {
		issuer := os.Getenv("OIDC_ISSUER")
		if issuer == "" {
			return nil, fmt.Errorf("OIDC_ISSUER not configured for production JWT verification")
		}
		if err := InitJWKS(issuer); err != nil {
			return nil, fmt.Errorf("failed to initialize JWKS: %w", err)
		}
	}

	keyfunc := jwksManager.getKeyfunc()
	if keyfunc == nil {
		return nil, fmt.Errorf("JWKS not available")
	}

	token, err := jwt.Parse(tokenString, keyfunc, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return token, nil
}

// extractRoleFromMapClaims finds the admin role in the Keycloak realm roles,
// the Cognito groups or the custom groups claim. Everyone else is an agent.
func extractRoleFromMapClaims(mapClaims jwt.MapClaims) types.Role {
	if realmAccess, ok := mapClaims["realm_access"].(map[string]interface{}); ok {
		if roles, ok := realmAccess["roles"].([]interface{}); ok {
			for _, role := range roles {
				if roleStr, ok := role.(string); ok && roleStr == string(types.RoleAdmin) {
					return types.RoleAdmin
				}
			}
		}
	}

	for _, key := range []string{"cognito:groups", "custom:groups"} {
		if groups, ok := mapClaims[key].([]interface{}); ok {
			for _, group := range groups {
				if groupStr, ok := group.(string); ok && strings.Contains(groupStr, "admin") {
					return types.RoleAdmin
				}
			}
		}
	}

	return types.RoleAgent
}

func extractGroupsFromMapClaims(mapClaims jwt.MapClaims) []string {
	var groups []string

	for _, key := range []string{"groups", "cognito:groups"} {
		if groupsClaim, ok := mapClaims[key].([]interface{}); ok {
			for _, group := range groupsClaim {
				if groupStr, ok := group.(string); ok {
					groups = append(groups, groupStr)
				}
			}
		}
	}
	return groups
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}

// WithUser returns a context carrying the given claims
func WithUser(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}
