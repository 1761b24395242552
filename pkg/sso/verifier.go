package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
	"github.com/platinummonkey/spokehub/pkg/keys"
	"github.com/platinummonkey/spokehub/pkg/observability"
)

var errKeyMismatch = errors.New("token signed with an unknown key")

// VerifierConfig wires a Verifier
type VerifierConfig struct {
	Keys    *keys.KeyStore
	Issuer  string
	Users   entitlements.UserStore
	Catalog entitlements.CatalogStore
	Nonces  NonceStore
	Spokes  SpokeDirectory
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Verifier redeems launch tokens on behalf of spokes
type Verifier struct {
	cfg    VerifierConfig
	parser *jwt.Parser
}

// NewVerifier creates a Verifier, filling in defaults
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{
		cfg: cfg,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{keys.Algorithm}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(cfg.Now),
		),
	}
}

// Verify checks tokenString on behalf of callerSpokeID and consumes its
// nonce. Rejections are *VerifyError; store failures are returned as plain
// errors. A token verifies successfully at most once.
func (v *Verifier) Verify(ctx context.Context, tokenString, callerSpokeID string) (*VerifiedUser, error) {
	user, err := v.verify(ctx, tokenString, callerSpokeID)

	result := "ok"
	if err != nil {
		result = string(VerifyErrorCode(err))
		if result == "" {
			result = "error"
		}
		v.cfg.Logger.WithFields(map[string]interface{}{
			"spoke_id": callerSpokeID,
			"result":   result,
		}).WithError(err).Info("SSO token rejected")
	}
	v.cfg.Metrics.VerifiedToken(callerSpokeID, result)

	return user, err
}

func (v *Verifier) verify(ctx context.Context, tokenString, callerSpokeID string) (*VerifiedUser, error) {
	if tokenString == "" {
		return nil, verifyError(CodeMissingToken, nil)
	}
	if callerSpokeID == "" {
		return nil, verifyError(CodeUnknownSpoke, nil)
	}
	if v.cfg.Spokes != nil {
		if _, ok := v.cfg.Spokes.ByID(callerSpokeID); !ok {
			return nil, verifyError(CodeUnknownSpoke, nil)
		}
	}
	if v.cfg.Keys == nil {
		return nil, verifyError(CodeVerificationFailed, keys.ErrNotConfigured)
	}

	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(tokenString, claims, v.keyFunc); err != nil {
		return nil, verifyError(classifyParseError(err), err)
	}

	if claims.AppID != callerSpokeID {
		return nil, verifyError(CodeWrongApp, fmt.Errorf("token issued for %q", claims.AppID))
	}
	if claims.Nonce == "" {
		return nil, verifyError(CodeInvalidNonce, errors.New("token has no nonce"))
	}

	now := v.cfg.Now()
	rec, err := v.cfg.Nonces.GetNonce(ctx, claims.Nonce, claims.AppID)
	if errors.Is(err, entitlements.ErrNotFound) {
		return nil, verifyError(CodeInvalidNonce, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load nonce: %w", err)
	}
	if rec.UserID != claims.UserID {
		return nil, verifyError(CodeInvalidNonce, errors.New("nonce belongs to another user"))
	}
	if rec.Used() {
		return nil, verifyError(CodeNonceReused, nil)
	}
	if !rec.ExpiresAt.After(now) {
		return nil, verifyError(CodeInvalidNonce, errors.New("nonce expired"))
	}

	marked, err := v.cfg.Nonces.MarkNonceUsed(ctx, claims.Nonce, claims.AppID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark nonce used: %w", err)
	}
	if !marked {
		return nil, verifyError(CodeNonceReused, nil)
	}

	user, err := v.cfg.Users.GetUser(ctx, claims.UserID)
	if errors.Is(err, entitlements.ErrNotFound) {
		return nil, verifyError(CodeUserNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return describeUser(ctx, v.cfg.Catalog, user, now)
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if kid, ok := token.Header["kid"].(string); ok && kid != v.cfg.Keys.KeyID() {
		return nil, errKeyMismatch
	}
	return v.cfg.Keys.PublicKey(), nil
}

func classifyParseError(err error) VerifyCode {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, errKeyMismatch):
		return CodeInvalidSignature
	default:
		return CodeVerificationFailed
	}
}
