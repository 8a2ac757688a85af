package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// TokenClaims is the HS256 payload issued by the storefront. Plan carries the
// caller's entitlement tier.
type TokenClaims struct {
	Sub  string `json:"sub"`
	Plan string `json:"plan"`
	Exp  int64  `json:"exp"`
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type userKey string

const (
	userIDKey   userKey = "user_id"
	userPlanKey userKey = "user_plan"
)

var (
	errMalformedToken = errors.New("malformed token")
	errTokenAlg       = errors.New("unsupported token algorithm")
	errTokenSignature = errors.New("invalid signature")
	errTokenExpired   = errors.New("token expired")
)

// SignJWT issues a token; the storefront does this in production, tests and
// local tooling use it here.
func SignJWT(secret string, claims TokenClaims) (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	data := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return data + "." + hmacSign(secret, data), nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyJWT accepts only HS256 tokens signed with secret that have not
// expired at now.
func VerifyJWT(secret, token string, now time.Time) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errMalformedToken
	}
	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errMalformedToken
	}
	var header tokenHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return nil, errMalformedToken
	}
	if header.Alg != "HS256" {
		return nil, errTokenAlg
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, errTokenSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errMalformedToken
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errMalformedToken
	}
	if claims.Exp != 0 && now.Unix() > claims.Exp {
		return nil, errTokenExpired
	}
	return &claims, nil
}

// OptionalAuthJWT attaches the caller identity when a valid bearer token is
// present and lets anonymous requests through. A present but invalid token is
// still rejected. An empty secret disables authentication entirely.
func OptionalAuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := VerifyJWT(secret, token, time.Now())
			if err != nil {
				message := "The access token is invalid."
				if errors.Is(err, errTokenExpired) {
					message = "The access token has expired."
				}
				reject(w, http.StatusUnauthorized, "unauthorized", message)
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// reject writes the service error body for failures raised before a handler
// runs.
func reject(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   kind,
		"message": message,
		"code":    "PREVIEW_" + strings.ToUpper(kind),
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func withClaims(ctx context.Context, claims *TokenClaims) context.Context {
	ctx = ContextWithUserID(ctx, claims.Sub)
	return ContextWithUserPlan(ctx, claims.Plan)
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}

// UserPlanFromContext returns the plan claim, or "" for anonymous callers.
func UserPlanFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userPlanKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserPlan(ctx context.Context, plan string) context.Context {
	if strings.TrimSpace(plan) == "" {
		return ctx
	}
	return context.WithValue(ctx, userPlanKey, plan)
}
