package model

import "time"

// Identity is what the identity provider vouches for after verifying a
// credential pair.
type Identity struct {
	Username string
	Groups   []string
}

// MemberOf reports whether the identity belongs to group.
func (i *Identity) MemberOf(group string) bool {
	for _, g := range i.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// User holds a directory entry as stored in the users table.
type User struct {
	Username     string
	PasswordHash string
	Groups       []string
	CreatedAt    time.Time
}
