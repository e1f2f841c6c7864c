package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Known keys. Every other key in an entry object is carried through unchanged.
const (
	keySlug        = "slug"
	keyName        = "name"
	keyPlaceID     = "place_id"
	keySearchQuery = "search_query"
	keyCity        = "city"
	keyProvince    = "province"
	keyLatitude    = "latitude"
	keyLongitude   = "longitude"
	keyPhoto       = "photo"
)

// Entry is one catalog listing.
type Entry struct {
	Slug        string
	Name        string
	PlaceID     string
	SearchQuery string
	City        string
	Province    string
	Latitude    *float64
	Longitude   *float64
	Photo       string

	raw map[string]json.RawMessage
}

// LookupKey returns the provider lookup key: the place ID when known, else an
// explicit search query, else "name, city, province" built from the listing.
func (e *Entry) LookupKey() string {
	if id := strings.TrimSpace(e.PlaceID); id != "" {
		return id
	}
	if q := strings.TrimSpace(e.SearchQuery); q != "" {
		return q
	}
	name := strings.TrimSpace(e.Name)
	city := strings.TrimSpace(e.City)
	if name == "" || city == "" {
		return ""
	}
	parts := []string{name, city}
	if province := strings.TrimSpace(e.Province); province != "" {
		parts = append(parts, province)
	}
	return strings.Join(parts, ", ")
}

// HasPhoto reports whether the entry already references a photo.
func (e *Entry) HasPhoto() bool {
	return strings.TrimSpace(e.Photo) != ""
}

// Coordinates returns the stored position when both axes are present.
func (e *Entry) Coordinates() (lat, lng float64, ok bool) {
	if e.Latitude == nil || e.Longitude == nil {
		return 0, 0, false
	}
	return *e.Latitude, *e.Longitude, true
}

// UnmarshalJSON keeps the raw object so unknown keys survive a rewrite.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	str := func(key string) string {
		if err != nil {
			return ""
		}
		var s string
		s, err = decodeString(raw[key])
		if err != nil {
			err = fmt.Errorf("field %s: %w", key, err)
		}
		return s
	}
	*e = Entry{
		Slug:        str(keySlug),
		Name:        str(keyName),
		PlaceID:     str(keyPlaceID),
		SearchQuery: str(keySearchQuery),
		City:        str(keyCity),
		Province:    str(keyProvince),
		Photo:       str(keyPhoto),
		raw:         raw,
	}
	if err != nil {
		return err
	}
	if e.Latitude, err = decodeCoordinate(raw[keyLatitude]); err != nil {
		return fmt.Errorf("field %s: %w", keyLatitude, err)
	}
	if e.Longitude, err = decodeCoordinate(raw[keyLongitude]); err != nil {
		return fmt.Errorf("field %s: %w", keyLongitude, err)
	}
	return nil
}

// MarshalJSON writes the original object with the photo reference applied.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.raw)+1)
	for key, value := range e.raw {
		out[key] = value
	}
	set := func(key, value string) error {
		if value == "" {
			if _, existed := e.raw[key]; !existed {
				return nil
			}
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		out[key] = encoded
		return nil
	}
	if _, ok := out[keySlug]; !ok {
		if err := set(keySlug, e.Slug); err != nil {
			return nil, err
		}
	}
	if err := set(keyPhoto, e.Photo); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func decodeString(value json.RawMessage) (string, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return "", nil
	}
	if value[0] == '"' {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	// Numeric place IDs are accepted as-is.
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return "", fmt.Errorf("expected string, got %s", value)
	}
	return n.String(), nil
}

// decodeCoordinate accepts numbers and numeric strings; catalogs converted
// from spreadsheets often carry "52.09" or "".
func decodeCoordinate(value json.RawMessage) (*float64, error) {
	s, err := decodeString(value)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinate %q", s)
	}
	return &f, nil
}
