// Package credentials provides a bcrypt-backed CredentialVerifier for the
// session core. Password policy is out of scope; the verifier only compares.
package credentials
