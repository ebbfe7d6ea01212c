// Package auth resolves a request's principal from its credentials.
//
// Resolution uses a chain-of-responsibility with three-outcome voting:
// each strategy returns Granted (identity established), Denied
// (credentials present but invalid), or Abstain (can't handle this
// credential type). Strategies are tried in priority order, bearer JWTs
// before session cookies, and a denial by one credential type still
// lets the next type try, so a browser with a stale Authorization header
// can fall back to its session. Configuration defects (a missing or
// known-weak tenant secret) stop the chain immediately: they are server
// errors, not bad credentials.
//
// Rejections are uniform: callers see a single 401 body regardless of
// which sub-check failed, so the endpoint cannot be used as a
// credential-probing oracle.
package auth
