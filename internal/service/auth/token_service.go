package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kavindya12/soa-microservices-platform/internal/config"
	"github.com/kavindya12/soa-microservices-platform/internal/domain"
	"github.com/kavindya12/soa-microservices-platform/internal/domain/oauth"
	"github.com/kavindya12/soa-microservices-platform/internal/jwt"
	"github.com/kavindya12/soa-microservices-platform/internal/password"
	"github.com/kavindya12/soa-microservices-platform/internal/repository"
)

const (
	responseTypeCode      = "code"
	grantTypeAuthCode     = "authorization_code"
	defaultGrantScope     = "read"
	defaultServiceScope   = "read write"
	serviceEmailSuffix    = "@internal"
	tokenTypeBearer       = "Bearer"
	tokenTypeAccessToken  = "access_token"
	tokenTypeSignedClaims = "jwt"
)

// ErrServiceIdentityNotAllowed is returned when minting claims for an identity
// that is not listed in the deployment configuration.
var ErrServiceIdentityNotAllowed = errors.New("auth: service identity not allowed")

// OAuthError standardizes OAuth compliant errors.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newOAuthError(code, desc string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: desc, Status: status}
}

// AuthorizeInput carries the authorization endpoint query.
type AuthorizeInput struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

// TokenInput carries the token endpoint form.
type TokenInput struct {
	GrantType    string
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// TokenService issues and validates authorization codes, access tokens and signed claims.
type TokenService struct {
	clients    repository.ClientRegistry
	grants     repository.GrantStore
	tokens     repository.AccessTokenStore
	jwt        *jwt.Generator
	hasher     *password.Hasher
	codeTTL    time.Duration
	accessTTL  time.Duration
	identities map[string]struct{}
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewTokenService wires dependencies.
func NewTokenService(clients repository.ClientRegistry, grants repository.GrantStore, tokens repository.AccessTokenStore, generator *jwt.Generator, hasher *password.Hasher, cfg config.Config, logger *zap.Logger) *TokenService {
	identities := make(map[string]struct{}, len(cfg.ServiceIdentities))
	for _, id := range cfg.ServiceIdentities {
		identities[id] = struct{}{}
	}
	return &TokenService{
		clients:    clients,
		grants:     grants,
		tokens:     tokens,
		jwt:        generator,
		hasher:     hasher,
		codeTTL:    cfg.AuthCodeTTL,
		accessTTL:  cfg.AccessTokenTTL,
		identities: identities,
		logger:     logger,
		tracer:     otel.Tracer("github.com/kavindya12/soa-microservices-platform/internal/service/auth"),
		now:        time.Now,
	}
}

// Authorize validates the request and returns the redirect URL carrying a fresh authorization code.
func (s *TokenService) Authorize(ctx context.Context, in AuthorizeInput) (string, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Authorize")
	defer span.End()

	if in.ResponseType != responseTypeCode {
		return "", newOAuthError("unsupported_response_type", "Only response_type=code is supported.", http.StatusBadRequest)
	}

	client, err := s.clients.GetClient(ctx, in.ClientID)
	if err != nil {
		return "", newOAuthError("invalid_client", "Unknown client.", http.StatusBadRequest)
	}
	span.SetAttributes(attribute.String("oauth.client_id", client.ID))

	if !client.AllowsRedirect(in.RedirectURI) {
		return "", newOAuthError("invalid_redirect_uri", "redirect_uri is not registered for this client.", http.StatusBadRequest)
	}
	target, err := url.Parse(in.RedirectURI)
	if err != nil {
		return "", newOAuthError("invalid_redirect_uri", "redirect_uri is malformed.", http.StatusBadRequest)
	}

	scopes := oauth.SplitScope(in.Scope)
	if len(scopes) == 0 {
		scopes = []string{defaultGrantScope}
	}
	if !client.AllowsScopes(scopes) {
		return "", newOAuthError("invalid_scope", "Requested scope exceeds the client's permitted scopes.", http.StatusBadRequest)
	}

	now := s.now()
	grant := oauth.AuthorizationGrant{
		Code:        uuid.NewString(),
		ClientID:    client.ID,
		RedirectURI: in.RedirectURI,
		Scopes:      scopes,
		ExpiresAt:   now.Add(s.codeTTL),
		CreatedAt:   now,
	}
	if err := s.grants.SaveGrant(ctx, grant); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("persist authorization grant: %w", err)
	}

	query := target.Query()
	query.Set("code", grant.Code)
	query.Set("state", in.State)
	target.RawQuery = query.Encode()

	s.audit("authorization_code.issued", "client_id", client.ID, "scope", oauth.JoinScope(scopes))
	return target.String(), nil
}

// ExchangeToken redeems an authorization code for an opaque access token and signed claims.
func (s *TokenService) ExchangeToken(ctx context.Context, in TokenInput) (*oauth.TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "TokenService.ExchangeToken")
	defer span.End()

	if in.GrantType != grantTypeAuthCode {
		return nil, newOAuthError("unsupported_grant_type", "Only authorization_code is supported.", http.StatusBadRequest)
	}

	client, err := s.AuthenticateClient(ctx, in.ClientID, in.ClientSecret)
	if err != nil {
		return nil, err
	}

	grant, err := s.grants.TakeGrant(ctx, in.Code)
	if errors.Is(err, oauth.ErrGrantNotFound) {
		s.audit("authorization_code.rejected", "client_id", client.ID, "reason", "unknown_code")
		return nil, newOAuthError("invalid_grant", "Invalid authorization code.", http.StatusBadRequest)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("take authorization grant: %w", err)
	}

	now := s.now()
	switch {
	case grant.ClientID != client.ID:
		s.audit("authorization_code.rejected", "client_id", client.ID, "reason", "client_mismatch")
		return nil, newOAuthError("invalid_grant", "Authorization code was issued to another client.", http.StatusBadRequest)
	case grant.Expired(now):
		s.audit("authorization_code.rejected", "client_id", client.ID, "reason", "expired")
		return nil, newOAuthError("invalid_grant", "Authorization code expired.", http.StatusBadRequest)
	case in.RedirectURI != "" && in.RedirectURI != grant.RedirectURI:
		return nil, newOAuthError("invalid_grant", "Mismatched redirect_uri.", http.StatusBadRequest)
	}

	access := oauth.AccessToken{
		Token:     uuid.NewString(),
		ClientID:  client.ID,
		Scopes:    grant.Scopes,
		ExpiresAt: now.Add(s.accessTTL),
		CreatedAt: now,
	}
	if err := s.tokens.SaveToken(ctx, access); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist access token: %w", err)
	}

	scope := oauth.JoinScope(grant.Scopes)
	signed, err := s.jwt.Sign(ctx, client.ID, jwt.Claims{Scope: scope, Email: client.ID, Type: domain.PrincipalClient})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sign client claims: %w", err)
	}

	s.audit("access_token.issued", "client_id", client.ID, "scope", scope)
	return &oauth.TokenResponse{
		AccessToken: access.Token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(s.accessTTL.Seconds()),
		Scope:       scope,
		JWTToken:    signed,
	}, nil
}

// AuthenticateClient checks client credentials against the registry.
func (s *TokenService) AuthenticateClient(ctx context.Context, clientID, secret string) (oauth.Client, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return oauth.Client{}, newOAuthError("invalid_client", "Client authentication failed.", http.StatusBadRequest)
	}
	ok, err := s.hasher.Verify(secret, client.SecretHash)
	if err != nil || !ok {
		s.audit("client.authentication_failed", "client_id", clientID)
		return oauth.Client{}, newOAuthError("invalid_client", "Client authentication failed.", http.StatusBadRequest)
	}
	return client, nil
}

// MintServiceClaims signs a service identity token. Only configured identities may be minted.
func (s *TokenService) MintServiceClaims(ctx context.Context, serviceName, scope string) (string, error) {
	ctx, span := s.startSpan(ctx, "TokenService.MintServiceClaims")
	defer span.End()

	if _, ok := s.identities[serviceName]; !ok {
		return "", fmt.Errorf("%s: %w", serviceName, ErrServiceIdentityNotAllowed)
	}
	if strings.TrimSpace(scope) == "" {
		scope = defaultServiceScope
	}
	token, err := s.jwt.Sign(ctx, serviceName, jwt.Claims{
		Scope: scope,
		Email: serviceName + serviceEmailSuffix,
		Type:  domain.PrincipalService,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("sign service claims: %w", err)
	}
	return token, nil
}

// Verify checks a signed claims token. It never consults the grant or token tables.
func (s *TokenService) Verify(ctx context.Context, token string) (*domain.Principal, error) {
	std, custom, err := s.jwt.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oauth.ErrTokenInvalid, err)
	}
	principalType := custom.Type
	if principalType == "" {
		principalType = domain.PrincipalUser
	}
	return &domain.Principal{
		Subject: std.Subject,
		Email:   custom.Email,
		Scopes:  oauth.SplitScope(custom.Scope),
		Type:    principalType,
	}, nil
}

// Introspect reports whether token is an active opaque access token or signed claims token.
func (s *TokenService) Introspect(ctx context.Context, token string) (*oauth.Introspection, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Introspect")
	defer span.End()

	access, err := s.tokens.LookupToken(ctx, token, s.now())
	switch {
	case err == nil:
		return &oauth.Introspection{
			Active:    true,
			ClientID:  access.ClientID,
			Scope:     oauth.JoinScope(access.Scopes),
			TokenType: tokenTypeAccessToken,
			ExpiresAt: access.ExpiresAt.Unix(),
		}, nil
	case !errors.Is(err, oauth.ErrTokenNotFound):
		span.RecordError(err)
		return nil, fmt.Errorf("lookup access token: %w", err)
	}

	std, custom, err := s.jwt.Verify(ctx, token)
	if err != nil {
		return &oauth.Introspection{Active: false}, nil
	}
	out := &oauth.Introspection{
		Active:    true,
		Subject:   std.Subject,
		Scope:     custom.Scope,
		TokenType: tokenTypeSignedClaims,
	}
	if custom.Type == domain.PrincipalClient {
		out.ClientID = std.Subject
	}
	if std.Expiry != nil {
		out.ExpiresAt = std.Expiry.Time().Unix()
	}
	return out, nil
}

// ListClients returns the registered client ids in sorted order.
func (s *TokenService) ListClients(ctx context.Context) []string {
	return s.clients.ListClientIDs(ctx)
}

// PurgeExpired drops expired grants and access tokens.
func (s *TokenService) PurgeExpired(ctx context.Context) (int, error) {
	now := s.now()
	var result *multierror.Error
	grants, err := s.grants.PurgeExpiredGrants(ctx, now)
	if err != nil {
		result = multierror.Append(result, err)
	}
	tokens, err := s.tokens.PurgeExpiredTokens(ctx, now)
	if err != nil {
		result = multierror.Append(result, err)
	}
	return grants + tokens, result.ErrorOrNil()
}

func (s *TokenService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *TokenService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *TokenService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
