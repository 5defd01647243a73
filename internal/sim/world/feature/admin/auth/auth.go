// Package auth holds the admin credential check and the per-session role.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past 72 bytes; longer credentials are refused outright.
const maxCredentialBytes = 72

var ErrNoSecret = errors.New("admin secret not configured")

type Role uint8

const (
	RoleGuest Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "guest"
}

// Authority is the role of one session. The only transition is guest to admin.
type Authority struct {
	role Role
}

func (a Authority) Role() Role    { return a.role }
func (a Authority) IsAdmin() bool { return a.role == RoleAdmin }

// Grant promotes the session and reports whether it changed anything.
func (a *Authority) Grant() bool {
	if a.role == RoleAdmin {
		return false
	}
	a.role = RoleAdmin
	return true
}

// Verifier compares presented credentials against a bcrypt hash.
// A nil *Verifier rejects everything.
type Verifier struct {
	hash []byte
}

// NewVerifier hashes a plaintext secret. cost <= 0 uses bcrypt.DefaultCost.
func NewVerifier(secret string, cost int) (*Verifier, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if len(secret) > maxCredentialBytes {
		return nil, fmt.Errorf("admin secret longer than %d bytes", maxCredentialBytes)
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return nil, fmt.Errorf("hash admin secret: %w", err)
	}
	return &Verifier{hash: h}, nil
}

// NewVerifierFromHash accepts a precomputed bcrypt hash.
func NewVerifierFromHash(hash string) (*Verifier, error) {
	if hash == "" {
		return nil, ErrNoSecret
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("admin secret hash: %w", err)
	}
	return &Verifier{hash: []byte(hash)}, nil
}

func (v *Verifier) Enabled() bool { return v != nil && len(v.hash) > 0 }

func (v *Verifier) Verify(credential string) bool {
	if !v.Enabled() || credential == "" || len(credential) > maxCredentialBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(credential)) == nil
}
