package api

import (
	"errors"
	"net/http"
	"strings"

	"zapis/internal/config"
	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityResolver extracts the customer behind a request from a bearer token
// or, without a JWT secret, from a header set by a trusted gateway.
type IdentityResolver struct {
	secret []byte
	issuer string
	header string
}

func NewIdentityResolver(cfg config.APIJWTConfig) *IdentityResolver {
	return &IdentityResolver{secret: []byte(cfg.Secret), issuer: cfg.Issuer, header: cfg.CustomerHeader}
}

type customerClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`

	// TelegramChatID links the customer to a chat with the bot.
	TelegramChatID int64 `json:"telegram_chat_id,omitempty"`

	jwt.RegisteredClaims
}

func (r *IdentityResolver) Resolve(req *http.Request) (*models.Customer, error) {
	if len(r.secret) == 0 {
		if r.header == "" {
			return nil, domain.ErrUnauthenticated
		}
		id := strings.TrimSpace(req.Header.Get(r.header))
		if id == "" {
			return nil, domain.ErrUnauthenticated
		}
		return &models.Customer{ID: id}, nil
	}

	raw, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, domain.ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	claims := &customerClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || claims.Subject == "" {
		return nil, domain.ErrUnauthenticated
	}
	return &models.Customer{
		ID:             claims.Subject,
		Email:          claims.Email,
		Name:           claims.Name,
		TelegramChatID: claims.TelegramChatID,
	}, nil
}

// IssueToken signs a customer token. Used by tooling and tests.
func IssueToken(secret, issuer string, c models.Customer, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = c.ID
	if issuer != "" {
		claims.Issuer = issuer
	}
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, customerClaims{
		Email:            c.Email,
		Name:             c.Name,
		TelegramChatID:   c.TelegramChatID,
		RegisteredClaims: claims,
	})
	return token.SignedString([]byte(secret))
}
