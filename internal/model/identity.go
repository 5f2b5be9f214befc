package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID identifies an entity across all of its versions. Type is the collection type
// the entity belongs to.
type ID struct {
	Type string    `json:"type"`
	UUID uuid.UUID `json:"uuid"`
}

// NewID creates a random identifier of the given type
func NewID(entityType string) ID {
	return ID{Type: entityType, UUID: uuid.New()}
}

// IsZero reports whether the identifier is unset
func (id ID) IsZero() bool {
	return id.Type == "" && id.UUID == uuid.Nil
}

func (id ID) String() string {
	return id.Type + ":" + id.UUID.String()
}

// ParseID parses the "type:uuid" form produced by String
func ParseID(s string) (ID, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return ID{}, fmt.Errorf("invalid entity id %q", s)
	}
	u, err := uuid.Parse(s[i+1:])
	if err != nil {
		return ID{}, fmt.Errorf("invalid entity id %q: %w", s, err)
	}
	return ID{Type: s[:i], UUID: u}, nil
}

// Version is a time ordered UUIDv7. Versions minted by one process are strictly
// increasing, and the leading 48 bits carry the creation time in milliseconds.
type Version uuid.UUID

// NewVersion mints the next version
func NewVersion() (Version, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return Version{}, fmt.Errorf("failed to mint version: %w", err)
	}
	return Version(u), nil
}

// NewVersionAfter mints a version strictly newer than floor. When the local clock
// has not passed floor, the new version takes floor's timestamp plus one
// millisecond and fresh random bits.
func NewVersionAfter(floor Version) (Version, error) {
	v, err := NewVersion()
	if err != nil || v.Compare(floor) > 0 {
		return v, err
	}

	var buf [8]byte
	copy(buf[2:], floor[:6])
	ms := binary.BigEndian.Uint64(buf[:]) + 1
	if ms >= 1<<48 {
		return Version{}, fmt.Errorf("no version after %s", floor)
	}
	binary.BigEndian.PutUint64(buf[:], ms)
	copy(v[:6], buf[2:])
	return v, nil
}

// ParseVersion parses the canonical UUID text form
func ParseVersion(s string) (Version, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version(u), nil
}

func (v Version) IsZero() bool {
	return uuid.UUID(v) == uuid.Nil
}

func (v Version) String() string {
	return uuid.UUID(v).String()
}

// Bytes returns the 16 raw bytes; their lexical order is the version order
func (v Version) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, v[:])
	return b
}

// Compare orders versions by creation
func (v Version) Compare(other Version) int {
	return bytes.Compare(v[:], other[:])
}

// Time returns the creation timestamp embedded in the version
func (v Version) Time() time.Time {
	var buf [8]byte
	copy(buf[2:], v[:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(buf[:])))
}

func (v Version) MarshalText() ([]byte, error) {
	return uuid.UUID(v).MarshalText()
}

func (v *Version) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*v = Version(u)
	return nil
}

// CollectionScope partitions every store: tenant application plus collection name
type CollectionScope struct {
	Application string `json:"application"`
	Name        string `json:"name"`
}

func NewCollectionScope(application, name string) CollectionScope {
	return CollectionScope{Application: application, Name: name}
}

// Validate checks both halves of the scope are set
func (s CollectionScope) Validate() error {
	if s.Application == "" {
		return fmt.Errorf("scope application is required")
	}
	if s.Name == "" {
		return fmt.Errorf("scope collection name is required")
	}
	return nil
}

func (s CollectionScope) String() string {
	return s.Application + "/" + s.Name
}
