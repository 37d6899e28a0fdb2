// Package record parses raw object metadata rows and decides which ones a
// scan keeps.
package record

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Row is one raw row returned by the query service.
type Row struct {
	// ID is the value of the id column the row was selected by.
	ID int64
	// Key is the object's storage path, if the backend returns it separately.
	Key string
	// Value is the serialized object metadata document.
	Value []byte
}

// ObjectRecord is the validated subset of object metadata a scan needs.
type ObjectRecord struct {
	Owner     uuid.UUID
	ObjectID  uuid.UUID
	Key       string
	Locations []string
	IsPart    bool
}

// Line formats the record as a result line without the trailing newline:
// "<owner> <objectId> <location_1> ... <location_n>".
func (r ObjectRecord) Line() string {
	var b strings.Builder
	b.Grow(73 + len(r.Locations)*24)
	b.WriteString(r.Owner.String())
	b.WriteByte(' ')
	b.WriteString(r.ObjectID.String())
	for _, loc := range r.Locations {
		b.WriteByte(' ')
		b.WriteString(loc)
	}
	return b.String()
}

// HasLocation reports whether loc is one of the record's storage locations.
func (r ObjectRecord) HasLocation(loc string) bool {
	for _, l := range r.Locations {
		if l == loc {
			return true
		}
	}
	return false
}

type metadata struct {
	Key      string   `json:"key"`
	Owner    *string  `json:"owner"`
	ObjectID *string  `json:"objectId"`
	Sharks   *[]shark `json:"sharks"`
}

type shark struct {
	Datacenter string `json:"datacenter"`
	StorageID  string `json:"manta_storage_id"`
}

// Parse validates row.Value and extracts an ObjectRecord. Missing owner,
// objectId or sharks fields fail with ErrMissingField; values that are
// present but unusable fail with ErrMalformed.
func Parse(row Row) (ObjectRecord, error) {
	var md metadata
	if err := json.Unmarshal(row.Value, &md); err != nil {
		return ObjectRecord{}, fmt.Errorf("%w: id %d: %v", ErrMalformed, row.ID, err)
	}

	if md.Owner == nil {
		return ObjectRecord{}, fmt.Errorf("%w: id %d: owner", ErrMissingField, row.ID)
	}
	if md.ObjectID == nil {
		return ObjectRecord{}, fmt.Errorf("%w: id %d: objectId", ErrMissingField, row.ID)
	}
	if md.Sharks == nil {
		return ObjectRecord{}, fmt.Errorf("%w: id %d: sharks", ErrMissingField, row.ID)
	}

	owner, err := uuid.Parse(*md.Owner)
	if err != nil {
		return ObjectRecord{}, fmt.Errorf("%w: id %d: owner %q", ErrMalformed, row.ID, *md.Owner)
	}
	objectID, err := uuid.Parse(*md.ObjectID)
	if err != nil {
		return ObjectRecord{}, fmt.Errorf("%w: id %d: objectId %q", ErrMalformed, row.ID, *md.ObjectID)
	}

	locations := make([]string, 0, len(*md.Sharks))
	for i, s := range *md.Sharks {
		if s.StorageID == "" || strings.ContainsAny(s.StorageID, " \t\r\n") {
			return ObjectRecord{}, fmt.Errorf("%w: id %d: sharks[%d].manta_storage_id %q", ErrMalformed, row.ID, i, s.StorageID)
		}
		locations = append(locations, s.StorageID)
	}

	key := row.Key
	if key == "" {
		key = md.Key
	}

	return ObjectRecord{
		Owner:     owner,
		ObjectID:  objectID,
		Key:       key,
		Locations: locations,
		IsPart:    IsPartPath(key),
	}, nil
}

// IsPartPath reports whether key has the shape of a multipart upload part:
// a UUID path segment immediately followed by an "uploads" segment.
func IsPartPath(key string) bool {
	segments := strings.Split(key, "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i+1] != "uploads" || len(segments[i]) != 36 {
			continue
		}
		if _, err := uuid.Parse(segments[i]); err == nil {
			return true
		}
	}
	return false
}
