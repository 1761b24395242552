// Package auth generates and hashes the hub's random credentials.
//
// Spoke API keys are issued once by the admin CLI. Only their SHA-256 hash
// needs to live in the spoke registry file; the middleware hashes the
// presented bearer key and looks the hash up. SSO nonces come from the
// same generator.
package auth
