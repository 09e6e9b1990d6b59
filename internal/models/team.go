package models

import (
	"time"

	"github.com/google/uuid"
)

// Team groups directory identities and owns the pre-shared access keys.
type Team struct {
	UUID       uuid.UUID // externally addressable
	TeamName   string
	Privileged bool // grants controller-wide administrative rights

	// AccessKeys is only populated by lookups that load the full team.
	AccessKeys []*AccessKey

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Name returns the team name. A team is the principal for access key requests.
func (t *Team) Name() string {
	return t.TeamName
}

// AccessKey is an opaque pre-shared secret bound to exactly one team.
type AccessKey struct {
	Value     string // globally unique, generated, never derived from team data
	TeamUUID  uuid.UUID
	CreatedAt time.Time
}

// MaskedValue returns a short prefix of the key suitable for logs.
func (k *AccessKey) MaskedValue() string {
	return MaskKey(k.Value)
}

// MaskKey truncates a key value so it can be logged without disclosing it.
func MaskKey(value string) string {
	const visible = 8
	if len(value) <= visible {
		return "****"
	}
	return value[:visible] + "****"
}
