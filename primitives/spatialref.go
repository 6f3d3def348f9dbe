package primitives

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	AuthorityEpsg     = "EPSG"
	AuthoritySrOrg    = "SR-ORG"
	AuthorityIau2000  = "IAU2000"
	AuthorityEsri     = "ESRI"
	unreferencedValue = ""
)

// SpatialReference identifies a coordinate reference system by authority and code.
// The zero value means "unreferenced".
type SpatialReference struct {
	Authority string
	Code      uint32
}

func NewSpatialReference(authority string, code uint32) SpatialReference {
	return SpatialReference{Authority: authority, Code: code}
}

func Epsg4326() SpatialReference {
	return SpatialReference{Authority: AuthorityEpsg, Code: 4326}
}

func Epsg3857() SpatialReference {
	return SpatialReference{Authority: AuthorityEpsg, Code: 3857}
}

func (s SpatialReference) IsUnreferenced() bool {
	return s.Authority == unreferencedValue
}

func (s SpatialReference) String() string {
	if s.IsUnreferenced() {
		return unreferencedValue
	}
	return fmt.Sprintf("%s:%d", s.Authority, s.Code)
}

// ParseSpatialReference parses "AUTHORITY:CODE". An empty string is unreferenced.
func ParseSpatialReference(s string) (SpatialReference, error) {
	if s == unreferencedValue {
		return SpatialReference{}, nil
	}
	authority, code, found := strings.Cut(s, ":")
	if !found {
		return SpatialReference{}, fmt.Errorf(`spatial reference "%s" is not of the form AUTHORITY:CODE`, s)
	}
	authority = strings.ToUpper(authority)
	switch authority {
	case AuthorityEpsg, AuthoritySrOrg, AuthorityIau2000, AuthorityEsri:
	default:
		return SpatialReference{}, fmt.Errorf(`unknown spatial reference authority "%s"`, authority)
	}
	parsed, err := strconv.ParseUint(code, 10, 32)
	if err != nil {
		return SpatialReference{}, fmt.Errorf(`could not parse spatial reference code "%s": %w`, code, err)
	}
	return SpatialReference{Authority: authority, Code: uint32(parsed)}, nil
}

func (s SpatialReference) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SpatialReference) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSpatialReference(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
