package sso

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/spokehub/pkg/auth"
	"github.com/platinummonkey/spokehub/pkg/entitlements"
	"github.com/platinummonkey/spokehub/pkg/keys"
	"github.com/platinummonkey/spokehub/pkg/observability"
)

const (
	// DefaultTokenTTL is the lifetime embedded in launch tokens
	DefaultTokenTTL = 5 * time.Minute
	// DefaultNonceTTL is how long a nonce record stays redeemable
	DefaultNonceTTL = 10 * time.Minute
	// DefaultIssuer is the iss claim when none is configured
	DefaultIssuer = "spokehub"
)

// SpokeDirectory resolves spoke endpoints from the registry file
type SpokeDirectory interface {
	ByID(id string) (*auth.SpokeIdentity, bool)
	ByAppID(appID string) (*auth.SpokeIdentity, bool)
}

// IssuerConfig wires an Issuer. Keys may be nil, in which case every
// otherwise valid launch fails with not-configured.
type IssuerConfig struct {
	Keys          *keys.KeyStore
	Issuer        string
	TokenTTL      time.Duration
	NonceTTL      time.Duration
	Users         entitlements.UserStore
	Catalog       entitlements.CatalogStore
	Nonces        NonceStore
	Spokes        SpokeDirectory
	BaseProductID string
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Now           func() time.Time
}

// IssueResult is a signed launch token and where to send the browser
type IssueResult struct {
	Token       string    `json:"token"`
	RedirectURL string    `json:"redirectUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Issuer mints single-use launch tokens
type Issuer struct {
	cfg    IssuerConfig
	tokens *auth.TokenGenerator
}

// NewIssuer creates an Issuer, filling in defaults
func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = DefaultNonceTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{cfg: cfg, tokens: auth.NewTokenGenerator()}
}

// Issue checks that userID may launch appID and returns a signed token.
// Refusals are *IssueError; anything else is an internal failure. Nothing
// is persisted unless a token is returned.
func (i *Issuer) Issue(ctx context.Context, userID, appID string) (*IssueResult, error) {
	res, err := i.issue(ctx, userID, appID)
	i.cfg.Metrics.IssuedToken(issueResultLabel(err))
	return res, err
}

func (i *Issuer) issue(ctx context.Context, userID, appID string) (*IssueResult, error) {
	logger := i.cfg.Logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"app_id":  appID,
	})

	if userID == "" {
		return nil, issueError(CodeNotAuthorized, "You must be logged in")
	}
	user, err := i.cfg.Users.GetUser(ctx, userID)
	if errors.Is(err, entitlements.ErrNotFound) {
		return nil, issueError(CodeNotAuthorized, "You must be logged in")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if appID == "" {
		return nil, issueError(CodeNotFound, "App not found")
	}
	app, err := i.cfg.Catalog.GetApp(ctx, appID)
	if errors.Is(err, entitlements.ErrNotFound) || (err == nil && !app.Launchable()) {
		return nil, issueError(CodeNotFound, "App not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load app: %w", err)
	}

	spoke, ok := i.resolveSpoke(app)
	if !ok {
		logger.Error("App has no spoke endpoint configured")
		return nil, issueError(CodeNotConfigured, "App is not configured for SSO")
	}
	if i.cfg.Keys == nil {
		logger.Error("SSO signing keys are not configured")
		return nil, issueError(CodeNotConfigured, "SSO is not configured")
	}
	base, err := i.baseProduct(ctx)
	if errors.Is(err, entitlements.ErrNotFound) {
		logger.Error("No base product configured")
		return nil, issueError(CodeNotConfigured, "SSO is not configured")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load base product: %w", err)
	}

	now := i.cfg.Now()
	if !entitlements.CanLaunch(user, app, base.ID, now) {
		appProduct, err := i.appProduct(ctx, app, base)
		if err != nil {
			return nil, err
		}
		missing := entitlements.MissingRequirements(user, app, base, appProduct, now)
		logger.WithField("missing", missing).Info("Launch denied, subscription required")
		return nil, &IssueError{
			Code:    CodeSubscriptionRequired,
			Reason:  "Missing required subscription: " + strings.Join(missing, ", "),
			Missing: missing,
		}
	}

	nonce, err := i.tokens.GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	expiresAt := now.Add(i.cfg.TokenTTL)
	claims := &Claims{
		UserID:        user.ID,
		Username:      entitlements.DisplayName(user),
		AppID:         spoke.SpokeID,
		AppURL:        spoke.URL,
		Subscriptions: snapshot(entitlements.ActiveSubscriptions(user, now)),
		Nonce:         nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{spoke.SpokeID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if email := entitlements.PrimaryEmail(user); email != nil {
		claims.Email = email.Address
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.cfg.Keys.KeyID()
	signed, err := token.SignedString(i.cfg.Keys.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	err = i.cfg.Nonces.CreateNonce(ctx, NonceRecord{
		Nonce:     nonce,
		AppID:     spoke.SpokeID,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(i.cfg.NonceTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store nonce: %w", err)
	}

	logger.WithField("spoke_id", spoke.SpokeID).Info("Issued SSO token")

	return &IssueResult{
		Token:       signed,
		RedirectURL: spoke.URL + "/sso?token=" + url.QueryEscape(signed),
		ExpiresAt:   expiresAt,
	}, nil
}

// resolveSpoke prefers the app record, then the registry by spoke id, then
// the registry entry mapped to the app id
func (i *Issuer) resolveSpoke(app *entitlements.App) (*auth.SpokeIdentity, bool) {
	if app.SpokeID != "" && app.SpokeURL != "" {
		return &auth.SpokeIdentity{
			SpokeID: app.SpokeID,
			AppID:   app.ID,
			URL:     strings.TrimRight(app.SpokeURL, "/"),
		}, true
	}
	if i.cfg.Spokes == nil {
		return nil, false
	}
	if app.SpokeID != "" {
		if s, ok := i.cfg.Spokes.ByID(app.SpokeID); ok && s.URL != "" {
			return s, true
		}
	}
	if s, ok := i.cfg.Spokes.ByAppID(app.ID); ok && s.URL != "" {
		return s, true
	}
	return nil, false
}

func (i *Issuer) baseProduct(ctx context.Context) (*entitlements.Product, error) {
	if i.cfg.BaseProductID != "" {
		return i.cfg.Catalog.GetProduct(ctx, i.cfg.BaseProductID)
	}
	return i.cfg.Catalog.GetBaseProduct(ctx)
}

func (i *Issuer) appProduct(ctx context.Context, app *entitlements.App, base *entitlements.Product) (*entitlements.Product, error) {
	if app.ProductID == "" || app.ProductID == base.ID {
		return nil, nil
	}
	p, err := i.cfg.Catalog.GetProduct(ctx, app.ProductID)
	if errors.Is(err, entitlements.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load app product: %w", err)
	}
	return p, nil
}

func issueResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ierr *IssueError
	if errors.As(err, &ierr) {
		return string(ierr.Code)
	}
	return "error"
}
