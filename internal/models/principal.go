package models

// Principal is an authenticated identity making a request.
// It is implemented by *DirectoryIdentity (bearer tokens) and *Team (access keys).
type Principal interface {
	Name() string
}

var (
	_ Principal = (*DirectoryIdentity)(nil)
	_ Principal = (*Team)(nil)
)
