package models

import "time"

// DirectoryIdentity is a user mirrored from the external directory (LDAP).
// Identities are written only by directory synchronization and read by authentication.
type DirectoryIdentity struct {
	ID       int64  // assigned by the store on first persist, immutable afterwards
	Username string // unique
	DN       string // distinguished name, unique

	// Teams the identity is a member of. Loaded with the identity, without access keys.
	Teams []*Team

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Name returns the username.
func (i *DirectoryIdentity) Name() string {
	return i.Username
}

// IsPrivileged returns true if the identity belongs to at least one privileged team.
// Privilege is a property of team membership, never of the identity itself.
func (i *DirectoryIdentity) IsPrivileged() bool {
	for _, t := range i.Teams {
		if t != nil && t.Privileged {
			return true
		}
	}
	return false
}
