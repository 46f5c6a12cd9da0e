// Package odata holds the OData v2 conventions shared by the SAP vendors.
package odata

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Query returns $format=json plus every non-empty key/value pair.
func Query(kv ...string) url.Values {
	q := url.Values{"$format": {"json"}}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			q.Set(kv[i], kv[i+1])
		}
	}
	return q
}

// Literal renders an OData string literal.
func Literal(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// EntityPath addresses prefix/Entity('key'). Quotes and parentheses stay
// unescaped.
func EntityPath(prefix, entity, key string) string {
	return prefix + "/" + entity + "('" + url.PathEscape(strings.ReplaceAll(key, "'", "''")) + "')"
}

// Results is the v2 collection envelope.
type Results[T any] struct {
	D struct {
		Results []T    `json:"results"`
		Next    string `json:"__next"`
	} `json:"d"`
}

// Entity is the v2 single-entity envelope.
type Entity[T any] struct {
	D T `json:"d"`
}

var dateRE = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// Date converts "/Date(ms)/" values to RFC 3339; anything else is kept as is.
type Date string

func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil {
		*d = ""
		return nil
	}
	m := dateRE.FindStringSubmatch(*s)
	if m == nil {
		*d = Date(*s)
		return nil
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return err
	}
	*d = Date(time.UnixMilli(ms).UTC().Format(time.RFC3339))
	return nil
}
