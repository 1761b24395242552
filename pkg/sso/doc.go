// Package sso issues and verifies the short-lived launch tokens a user
// carries from the hub to a spoke.
//
// A token is an RS256 JWT holding the user's identity and an entitlement
// snapshot. Each token also has a server-side nonce record, so a token
// verifies at most once even inside its validity window:
//
//	res, err := issuer.Issue(ctx, userID, appID)
//	// redirect the browser to res.RedirectURL
//
//	user, err := verifier.Verify(ctx, token, callerSpokeID)
//	var verr *sso.VerifyError
//	if errors.As(err, &verr) {
//		// verr.Code is one of the Code* constants
//	}
package sso
