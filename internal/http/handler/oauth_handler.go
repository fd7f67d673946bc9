package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainoauth "github.com/kavindya12/soa-microservices-platform/internal/domain/oauth"
	authsvc "github.com/kavindya12/soa-microservices-platform/internal/service/auth"
)

// TokenIssuer is the token service surface used by the OAuth endpoints.
type TokenIssuer interface {
	Authorize(ctx context.Context, in authsvc.AuthorizeInput) (string, error)
	ExchangeToken(ctx context.Context, in authsvc.TokenInput) (*domainoauth.TokenResponse, error)
	AuthenticateClient(ctx context.Context, clientID, secret string) (domainoauth.Client, error)
	Introspect(ctx context.Context, token string) (*domainoauth.Introspection, error)
	ListClients(ctx context.Context) []string
}

// OAuthHandler serves the authorization server endpoints.
type OAuthHandler struct {
	Tokens TokenIssuer
}

// NewOAuthHandler creates the handler set.
func NewOAuthHandler(tokens TokenIssuer) *OAuthHandler {
	return &OAuthHandler{Tokens: tokens}
}

type authorizeRequest struct {
	ResponseType string `form:"response_type"`
	ClientID     string `form:"client_id"`
	RedirectURI  string `form:"redirect_uri"`
	Scope        string `form:"scope"`
	State        string `form:"state"`
}

// Authorize issues an authorization code and redirects back to the client.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid authorize request."})
		return
	}

	location, err := h.Tokens.Authorize(c.Request.Context(), authsvc.AuthorizeInput{
		ResponseType: strings.TrimSpace(req.ResponseType),
		ClientID:     strings.TrimSpace(req.ClientID),
		RedirectURI:  strings.TrimSpace(req.RedirectURI),
		Scope:        req.Scope,
		State:        req.State,
	})
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Redirect(http.StatusFound, location)
}

type tokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	Code         string `form:"code" json:"code"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
}

// Token redeems an authorization code. Accepts form or JSON bodies and HTTP Basic client credentials.
func (h *OAuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}
	clientID, clientSecret := clientCredentials(c, req.ClientID, req.ClientSecret)

	resp, err := h.Tokens.ExchangeToken(c.Request.Context(), authsvc.TokenInput{
		GrantType:    strings.TrimSpace(req.GrantType),
		Code:         strings.TrimSpace(req.Code),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  strings.TrimSpace(req.RedirectURI),
	})
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

// Introspect reports token activity to an authenticated client.
func (h *OAuthHandler) Introspect(c *gin.Context) {
	var req struct {
		Token        string `form:"token" json:"token"`
		ClientID     string `form:"client_id" json:"client_id"`
		ClientSecret string `form:"client_secret" json:"client_secret"`
	}
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}
	clientID, clientSecret := clientCredentials(c, req.ClientID, req.ClientSecret)
	if _, err := h.Tokens.AuthenticateClient(c.Request.Context(), clientID, clientSecret); err != nil {
		respondOAuthError(c, err)
		return
	}

	result, err := h.Tokens.Introspect(c.Request.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Clients lists the registered client ids.
func (h *OAuthHandler) Clients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "OAuth2 clients registered",
		"clients": h.Tokens.ListClients(c.Request.Context()),
	})
}

func clientCredentials(c *gin.Context, id, secret string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		if user, pass, ok := c.Request.BasicAuth(); ok {
			return user, pass
		}
	}
	return id, secret
}

func respondOAuthError(c *gin.Context, err error) {
	var oauthErr *authsvc.OAuthError
	switch {
	case errors.As(err, &oauthErr):
		c.JSON(oauthErr.Status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
	case errors.Is(err, domainoauth.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Token could not be verified."})
	default:
		zap.L().Error("oauth service failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}
