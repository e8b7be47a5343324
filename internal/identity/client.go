package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Client calls the identity provider over HTTP. It speaks the Identity
// Toolkit REST dialect: accounts:signInWithPassword verifies a credential,
// accounts:signUp creates one. The API key is passed as a query parameter.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs an identity provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type credentialRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type credentialResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
	IDToken string `json:"idToken"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn verifies an email + password credential.
func (c *Client) SignIn(ctx context.Context, email, secret string) (Identity, error) {
	return c.credentialCall(ctx, "accounts:signInWithPassword", email, secret)
}

// CreateAccount registers a new credential and returns its identity.
func (c *Client) CreateAccount(ctx context.Context, email, secret string) (Identity, error) {
	return c.credentialCall(ctx, "accounts:signUp", email, secret)
}

func (c *Client) credentialCall(ctx context.Context, endpoint, email, secret string) (Identity, error) {
	body, err := json.Marshal(credentialRequest{
		Email:             email,
		Password:          secret,
		ReturnSecureToken: true,
	})
	if err != nil {
		return Identity{}, fmt.Errorf("encode request: %w", err)
	}
	url := fmt.Sprintf("%s/v1/%s?key=%s", c.baseURL, endpoint, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("identity provider: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Identity{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		_ = json.Unmarshal(data, &errResp)
		return Identity{}, mapProviderError(errResp.Error.Message)
	}

	var cred credentialResponse
	if err := json.Unmarshal(data, &cred); err != nil {
		return Identity{}, fmt.Errorf("decode response: %w", err)
	}
	id := Identity{UID: cred.LocalID, Email: cred.Email}
	if id.UID == "" || id.Email == "" {
		// Some responses omit profile fields; the ID token always carries them.
		fromToken, err := identityFromToken(cred.IDToken)
		if err == nil {
			if id.UID == "" {
				id.UID = fromToken.UID
			}
			if id.Email == "" {
				id.Email = fromToken.Email
			}
		}
	}
	if id.UID == "" {
		return Identity{}, &CredentialError{Category: CategoryGeneric, Code: "MISSING_LOCAL_ID"}
	}
	return id, nil
}

// identityFromToken recovers uid and email from an ID token's claims. The
// token was just received over TLS from the provider, so the signature is not
// re-verified here.
func identityFromToken(idToken string) (Identity, error) {
	if idToken == "" {
		return Identity{}, fmt.Errorf("empty id token")
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return Identity{}, fmt.Errorf("parse id token: %w", err)
	}
	id := Identity{}
	if uid, ok := claims["user_id"].(string); ok {
		id.UID = uid
	} else if sub, ok := claims["sub"].(string); ok {
		id.UID = sub
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	return id, nil
}

// mapProviderError buckets a raw provider error code. Codes may carry an
// explanation suffix ("TOO_MANY_ATTEMPTS_TRY_LATER : ..."), which is ignored.
func mapProviderError(message string) error {
	code := message
	if idx := strings.IndexAny(code, " :"); idx >= 0 {
		code = code[:idx]
	}
	category := CategoryGeneric
	switch code {
	case "INVALID_EMAIL", "MISSING_EMAIL":
		category = CategoryInvalidFormat
	case "USER_DISABLED":
		category = CategoryDisabled
	case "EMAIL_NOT_FOUND":
		category = CategoryNotFound
	case "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "MISSING_PASSWORD":
		category = CategoryWrongSecret
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		category = CategoryRateLimited
	}
	return &CredentialError{Category: category, Code: code}
}
