// Package directive extracts /user, /subscription and /notify directive
// blocks from markdown document text.
//
// A directive is a marker line (for example "/notify") followed by a fenced
// code block tagged "toml". Documents are otherwise ordinary markdown; the
// parser ignores everything that is not a directive.
package directive

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Kind identifies the type of a parsed directive record.
type Kind int

const (
	// KindUser is a /user directive.
	KindUser Kind = iota
	// KindSubscription is a /subscription directive.
	KindSubscription
	// KindNotify is a /notify directive.
	KindNotify
)

// label returns the marker line for the directive kind.
func (k Kind) label() string {
	switch k {
	case KindUser:
		return "/user"
	case KindSubscription:
		return "/subscription"
	case KindNotify:
		return "/notify"
	default:
		return "/unknown"
	}
}

// User is a named recipient declared by a /user block. It is purely
// informational and never used for authentication.
type User struct {
	Name        string `json:"name" toml:"name"`
	DisplayName string `json:"display_name,omitempty" toml:"display_name"`
}

// Subscription is a Web Push endpoint declared by a /subscription block.
// Multiple subscriptions may exist for the same user (multi-device).
type Subscription struct {
	User     string `json:"user" toml:"user"`
	Endpoint string `json:"endpoint" toml:"endpoint"`
	P256dh   string `json:"p256dh" toml:"p256dh"`
	Auth     string `json:"auth" toml:"auth"`
}

// Notification is a one-shot delivery request declared by a /notify block.
type Notification struct {
	// To holds the recipient user names, sorted and deduplicated.
	To []string `json:"to"`
	// At is the requested delivery time in UTC.
	At time.Time `json:"at"`
	// Message is the push payload text.
	Message string `json:"message"`
	// DocID is the document the block was parsed from.
	DocID string `json:"doc_id"`
	// ID is the content identity of the block (see Identity).
	ID Identity `json:"id"`
}

// Record is one parsed directive, tagged with its source line. Exactly one
// of User, Subscription or Notification is populated, per Kind.
type Record struct {
	Kind Kind `json:"kind"`
	Line int  `json:"line"`

	User         User         `json:"user,omitzero"`
	Subscription Subscription `json:"subscription,omitzero"`
	Notification Notification `json:"notification,omitzero"`
}

// Warning describes a malformed directive block. Warnings are never fatal;
// the offending block is skipped and parsing continues.
type Warning struct {
	DocID  string `json:"doc_id"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Identity is the content identity of a /notify block: a SHA-256 digest of
// the trimmed raw TOML text inside the fence. Two byte-identical blocks share
// an identity regardless of which document they appear in, and the identity
// is re-derivable from document content alone across process restarts.
type Identity [sha256.Size]byte

// IdentityOf computes the identity of a TOML block body.
func IdentityOf(block string) Identity {
	return sha256.Sum256([]byte(strings.TrimSpace(block)))
}

// String returns the hex form of the identity.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler so identities render as hex
// in JSON responses.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	copy(id[:], raw)
	return nil
}
