// Package session holds the process-wide authentication state of the client:
// the current access token, the user it belongs to and whether the state has
// been restored from persistent storage yet.
package session

import (
	"context"
	"encoding/json"
)

// User is the identity record returned by the API alongside a token.
// Fields this layer does not know about are kept in Extra.
type User struct {
	ID    string         `json:"id,omitempty"`
	Email string         `json:"email,omitempty"`
	Name  string         `json:"name,omitempty"`
	Role  string         `json:"role,omitempty"`
	Extra map[string]any `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range []string{"id", "email", "name", "role"} {
		delete(all, k)
	}

	*u = User(known)
	if len(all) > 0 {
		u.Extra = all
	}
	return nil
}

// MarshalJSON writes the known fields and Extra as one flat object.
func (u User) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Extra)+4)
	for k, v := range u.Extra {
		out[k] = v
	}
	if u.ID != "" {
		out["id"] = u.ID
	}
	if u.Email != "" {
		out["email"] = u.Email
	}
	if u.Name != "" {
		out["name"] = u.Name
	}
	if u.Role != "" {
		out["role"] = u.Role
	}
	return json.Marshal(out)
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Extra != nil {
		c.Extra = make(map[string]any, len(u.Extra))
		for k, v := range u.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Session is a read-only snapshot of the store.
type Session struct {
	AccessToken  string
	RefreshToken string // opaque placeholder, never sent by this layer
	User         *User
	Hydrated     bool
}

// Authenticated reports whether an access token is present.
func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// Blob is the persisted form of a session.
type Blob struct {
	AccessToken             string `json:"accessToken,omitempty"`
	RefreshTokenPlaceholder string `json:"refreshTokenPlaceholder,omitempty"`
	User                    *User  `json:"user,omitempty"`
}

// Empty reports whether the blob carries no session.
func (b *Blob) Empty() bool {
	return b == nil || (b.AccessToken == "" && b.User == nil && b.RefreshTokenPlaceholder == "")
}

// Repository is opaque key/value storage for the persisted blob.
// Load returns (nil, nil) when nothing has been stored yet.
type Repository interface {
	Load(ctx context.Context) (*Blob, error)
	Save(ctx context.Context, blob *Blob) error
}
