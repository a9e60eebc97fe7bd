// Package fxa is a client for Firefox Accounts style OAuth account
// services. It drives the authorization-code + PKCE flow, restores and
// serializes credential state, derives the Sync encryption keys from
// key material returned by a keys-requesting flow, produces BrowserID
// assertions from a password session, and fetches the user profile.
//
// An Account handle owns one account's credential state exclusively.
// Construct one with NewAccount for a fresh login or FromCredentials to
// restore a serialized snapshot, then either run the browser flow:
//
//	url, _ := acct.BeginOAuthFlow("app://callback", []string{"profile", fxa.ScopeSync}, true)
//	// send the user agent to url; the redirect carries code and state
//	info, err := acct.CompleteOAuthFlow(ctx, code, state)
//
// or sign in directly with a password:
//
//	err := acct.SignIn(ctx, email, password)
//
// Everything a method returns is the caller's copy; nothing aliases the
// handle's internal state. All failures are *Error values carrying a
// stable ErrorCode. The library never retries: transient failures
// surface immediately and deadlines are the caller's context's.
package fxa
