package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/idx"
)

var (
	ErrNotFound = errors.New("tokenstore: not found")
	ErrCorrupt  = errors.New("tokenstore: corrupt entry")
	ErrTooLarge = errors.New("tokenstore: entry too large")
)

// Storage key names, namespaced by Key.
const (
	KeyToken   = "token"
	KeyProfile = "profile"
	KeyRefresh = "refresh"
)

const DefaultNamespace = "tabsession"

// Key builds the namespaced backend key for name.
func Key(namespace, name string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + "." + name
}

// Record is the persisted credential. Times are epoch milliseconds.
type Record struct {
	ID        idx.ID `json:"id"`
	Token     string `json:"token"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (r Record) Expiry() time.Time {
	if r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.ExpiresAt)
}

func (r Record) Issued() time.Time { return time.UnixMilli(r.IssuedAt) }

func (r Record) validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return fmt.Errorf("%w: empty token", ErrCorrupt)
	}
	if r.ExpiresAt <= r.IssuedAt {
		return fmt.Errorf("%w: expiresAt %d not after issuedAt %d", ErrCorrupt, r.ExpiresAt, r.IssuedAt)
	}
	return nil
}

// Profile is the denormalised user display payload. It is stored apart from
// the token so the UI can render names and roles without decoding anything.
type Profile struct {
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	Status   string `json:"status,omitempty"`
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := r.validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

func decodeProfile(data []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return p, nil
}
