package socks

import "golang.org/x/crypto/bcrypt"

// UserPassFunc checks a username/password pair, as supplied to
// DefaultHandler.UserPass. It is the functional shape of spec §4.5's
// socks5_authenticate_user_pass hook.
type UserPassFunc func(username, password string) bool

// NewUserPassAuth builds a UserPassFunc that accepts exactly one
// plaintext username/password pair, generalizing the teacher's
// usernamePasswordAuth to a standalone hook rather than a whole
// Authenticator implementation (method negotiation is the state
// machine's job now, not the credential check's).
func NewUserPassAuth(username, password string) UserPassFunc {
	return func(u, p string) bool {
		return u == username && p == password
	}
}

// NewHashedUserPassAuth builds a UserPassFunc for a single username
// whose password is stored as a bcrypt hash, for embedders unwilling to
// hold plaintext credentials in memory or config.
func NewHashedUserPassAuth(username string, bcryptHash []byte) UserPassFunc {
	return func(u, p string) bool {
		if u != username {
			return false
		}
		return bcrypt.CompareHashAndPassword(bcryptHash, []byte(p)) == nil
	}
}

// HashPassword bcrypt-hashes a plaintext password at the given cost for
// storage, for use with NewHashedUserPassAuth. cost <= 0 uses
// bcrypt.DefaultCost.
func HashPassword(password string, cost int) ([]byte, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}
