// Package directory keeps stored identities in step with an external directory.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry is one user as described by the directory.
type Entry struct {
	Username string   `yaml:"username"`
	DN       string   `yaml:"dn"`
	Teams    []string `yaml:"teams"`
}

// Source lists the users currently present in the directory. An LDAP client is
// one implementation; FileSource reads a YAML document.
type Source interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// ErrInvalidEntry is returned for directory entries missing required fields.
var ErrInvalidEntry = errors.New("invalid directory entry")

type fileDocument struct {
	Users []Entry `yaml:"users"`
}

// FileSource reads users from a YAML file on every fetch, so edits are picked up
// by the next sync without a restart.
//
//	users:
//	  - username: alice
//	    dn: uid=alice,ou=people,dc=example,dc=com
//	    teams: [admins]
type FileSource struct {
	path string
}

// NewFileSource creates a source for the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Fetch(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	return ParseEntries(data)
}

// ParseEntries decodes and validates a YAML directory document.
func ParseEntries(data []byte) ([]Entry, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Users))
	for i, e := range doc.Users {
		if e.Username == "" || e.DN == "" {
			return nil, fmt.Errorf("%w: entry %d requires username and dn", ErrInvalidEntry, i)
		}
		if _, dup := seen[e.Username]; dup {
			return nil, fmt.Errorf("%w: duplicate username %q", ErrInvalidEntry, e.Username)
		}
		seen[e.Username] = struct{}{}
	}

	return doc.Users, nil
}
