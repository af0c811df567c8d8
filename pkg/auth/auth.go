// Package auth logs a user into the platform backend and reads the claims of
// the tokens it returns.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartswap/pkg/apperr"
	"smartswap/pkg/client"
	"smartswap/pkg/types"
)

const (
	loginPath = "/v1/auth/public/login"

	// Application and Platform identify this client to the auth backend
	Application = "BIC_GROUP"
	Platform    = "WEB"
)

var (
	// ErrCredentialsRequired is returned before any request when email or password is empty
	ErrCredentialsRequired = apperr.Validation("CREDENTIALS_REQUIRED", "Email and password are required")
	// ErrLoginFailed wraps any backend failure during login
	ErrLoginFailed = &apperr.Error{Kind: apperr.KindTransport, Code: "LOGIN_FAILED", Message: "Login error"}
	// ErrInvalidToken is returned when a token cannot be decoded
	ErrInvalidToken = apperr.Validation("INVALID_TOKEN", "Session token cannot be decoded")
)

// Device is the device descriptor sent with every login
type Device struct {
	DeviceID    string `json:"device_id"`
	DeviceName  string `json:"device_name"`
	Application string `json:"application"`
	Platform    string `json:"platform"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Device   Device `json:"device"`
}

// Client talks to the auth backend
type Client struct {
	baseURL   string
	versionID string
	device    Device
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates an auth client. An empty deviceID gets a fresh UUID.
func NewClient(baseURL, versionID, deviceID, userAgent string, logger *zap.Logger) *Client {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		versionID: versionID,
		device: Device{
			DeviceID:    deviceID,
			DeviceName:  userAgent,
			Application: Application,
			Platform:    Platform,
		},
		http:   http.DefaultClient,
		logger: logger,
	}
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Device returns the device descriptor used for logins
func (c *Client) Device() Device {
	return c.device
}

// Login exchanges email and password for a session bundle
func (c *Client) Login(ctx context.Context, email, password string) (*types.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrCredentialsRequired
	}

	header := http.Header{}
	header.Set("x-version-id", c.versionID)

	var resp client.Envelope[*types.Session]
	err := client.DoJSON(ctx, c.http, http.MethodPost, c.baseURL+loginPath, header, loginRequest{
		Email:    email,
		Password: password,
		Device:   c.device,
	}, &resp)
	if err != nil {
		c.logger.Error("login failed", zap.String("email", email), zap.Error(err))
		return nil, ErrLoginFailed.Wrap(err)
	}
	if resp.Data == nil || resp.Data.AccessToken == "" {
		c.logger.Error("login returned no session", zap.String("email", email))
		return nil, ErrLoginFailed
	}

	c.logger.Info("logged in", zap.String("username", resp.Data.Username))
	return resp.Data, nil
}

// Claims decodes the claims of a JWT without verifying its signature.
// The backend verifies tokens; the client only reads them.
func Claims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken.Wrap(err)
	}
	return claims, nil
}

// Subject returns the "sub" claim of token
func Subject(token string) (string, error) {
	claims, err := Claims(token)
	if err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
