package api

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/golang-jwt/jwt/v4/request"

	"github.com/samandr77/microservices/billing/internal/entity"
	"github.com/samandr77/microservices/billing/pkg/logger"
)

const apiKeyCaller = "api-key"

var skipLogging = map[string]struct{}{
	"/api/health":  {},
	"/api/metrics": {},
}

var skipHeaders = map[string]struct{}{
	"Authorization":        {},
	"Cookie":               {},
	"X-Api-Key":            {},
	"X-Razorpay-Signature": {},
}

type Middleware struct {
	authEnabled bool
	apiKey      string
	jwtSecret   []byte
}

func NewMiddleware(authEnabled bool, apiKey, jwtSecret string) *Middleware {
	return &Middleware{
		authEnabled: authEnabled,
		apiKey:      apiKey,
		jwtSecret:   []byte(jwtSecret),
	}
}

func (m *Middleware) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.Must(uuid.NewV4()).String()
		}

		ctx = logger.WithRequestID(ctx, requestID)
		w.Header().Set("X-Request-Id", requestID)

		if _, ok := skipLogging[r.URL.Path]; !ok {
			reqBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
			if err != nil {
				SendJSONErr(ctx, w, http.StatusInternalServerError, err, "read request body")
				return
			}

			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewBuffer(reqBody))

			var headers strings.Builder

			for k, v := range r.Header {
				if _, skip := skipHeaders[k]; skip {
					continue
				}

				headers.WriteString(fmt.Sprintf("%s: %s,\n", k, v))
			}

			slog.InfoContext(ctx, "incoming request",
				"request", fmt.Sprintf("%s %s\n%s", r.Method, r.URL.Redacted(), reqBody),
				"headers", headers.String(),
			)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		defer func() {
			err := recover()
			if err != nil {
				slog.ErrorContext(ctx, "recovered from panic", "error", err, "stack", string(debug.Stack()))
				SendJSON(ctx, w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) Cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Authorization, X-Api-Key, X-Request-Id, Origin, Accept, User-Agent, Cache-Control")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ServiceAuth authenticates internal callers by X-Api-Key or by an HS256 bearer token.
func (m *Middleware) ServiceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !m.authEnabled {
			next.ServeHTTP(w, r)
			return
		}

		caller := apiKeyCaller

		if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
			if m.apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(m.apiKey)) != 1 {
				SendJSONErr(ctx, w, http.StatusUnauthorized, nil, "invalid API key")
				return
			}
		} else {
			sub, err := m.bearerSubject(r)
			if err != nil {
				SendJSONErr(ctx, w, http.StatusUnauthorized, err, "missing or invalid credentials")
				return
			}

			caller = sub
		}

		ctx = entity.CtxWithCaller(ctx, caller)
		ctx = logger.WithCaller(ctx, caller)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) bearerSubject(r *http.Request) (string, error) {
	if len(m.jwtSecret) == 0 {
		return "", fmt.Errorf("%w: bearer auth is not configured", entity.ErrUnauthenticated)
	}

	token, err := request.BearerExtractor{}.ExtractToken(r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", entity.ErrUnauthenticated, err)
	}

	var claims jwt.RegisteredClaims

	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: parse token: %w", entity.ErrUnauthenticated, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", entity.ErrUnauthenticated)
	}

	return claims.Subject, nil
}
