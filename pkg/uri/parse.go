package uri

import (
	"strings"
)

// parseID parses a strictly decimal identifier no larger than MaxID.
func parseID(s string) (ID, error) {
	if s == "" {
		return Invalid, ErrEmptySegment
	}
	var v uint32
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return Invalid, ErrNotDecimal
		}
		v = v*10 + uint32(c-'0')
		if v > uint32(MaxID) {
			return Invalid, ErrIDOutOfRange
		}
	}
	return ID(v), nil
}

// Parse decodes the textual form "/o[/i[/r]]". Leading whitespace is
// skipped and a single trailing slash is accepted after the object or
// instance component. "/" alone yields the empty URI.
func Parse(s string) (URI, error) {
	s = strings.TrimLeft(s, " \t\r\n")
	if s == "" || s[0] != '/' {
		return Empty(), ErrInvalidURI
	}
	s = s[1:]
	if s == "" {
		return Empty(), nil
	}

	parts := strings.Split(s, "/")
	if len(parts) > 1 && parts[len(parts)-1] == "" && len(parts) <= 3 {
		parts = parts[:len(parts)-1]
	}
	if len(parts) > 3 {
		return Empty(), ErrTooManySegments
	}

	ids := [3]ID{Invalid, Invalid, Invalid}
	for i, p := range parts {
		id, err := parseID(p)
		if err != nil {
			return Empty(), err
		}
		ids[i] = id
	}
	return Make(ids[0], ids[1], ids[2])
}

// Decode builds a URI from the Uri-Path segments of a received request.
//
// A leading "rd" segment selects the registration interface and a lone "bs"
// the bootstrap interface. Otherwise altPath, when set, must be the first
// segment. No object segment (or an empty one) yields a delete-all URI.
// An empty instance segment is tolerated only when nothing follows it.
func Decode(segments []string, altPath string) (URI, error) {
	u := Empty()
	if len(segments) > 0 {
		switch segments[0] {
		case RegistrationSegment:
			u.Flags |= FlagRegistration
			segments = segments[1:]
			if len(segments) == 0 {
				return u, nil
			}
		case BootstrapSegment:
			if len(segments) > 1 {
				return Empty(), ErrTooManySegments
			}
			u.Flags |= FlagBootstrap
			return u, nil
		}
	}

	if !u.IsRegistration() {
		if p := strings.Trim(altPath, "/"); p != "" {
			if len(segments) == 0 || segments[0] != p {
				return Empty(), ErrAltPathMismatch
			}
			segments = segments[1:]
		}
		if len(segments) == 0 || segments[0] == "" {
			if len(segments) > 1 {
				return Empty(), ErrEmptySegment
			}
			u.Flags |= FlagDeleteAll
			return u, nil
		}
	}

	oid, err := parseID(segments[0])
	if err != nil {
		return Empty(), err
	}
	u.ObjectID = oid
	u.Flags |= FlagObjectID
	segments = segments[1:]

	if u.IsRegistration() {
		if len(segments) != 0 {
			return Empty(), ErrTooManySegments
		}
		return u, nil
	}
	u.Flags |= FlagDM

	if len(segments) == 0 {
		return u, nil
	}
	if segments[0] != "" {
		iid, err := parseID(segments[0])
		if err != nil {
			return Empty(), err
		}
		u.InstanceID = iid
		u.Flags |= FlagInstanceID
	}
	segments = segments[1:]

	if len(segments) == 0 {
		return u, nil
	}
	if !u.HasInstance() {
		return Empty(), ErrEmptySegment
	}
	rid, err := parseID(segments[0])
	if err != nil {
		return Empty(), err
	}
	u.ResourceID = rid
	u.Flags |= FlagResourceID

	if len(segments) > 1 {
		return Empty(), ErrTooManySegments
	}
	return u, nil
}

// ParseResourceList parses a semicolon separated list of resource ids such
// as "1;2;5". Empty items are skipped.
func ParseResourceList(s string) ([]ID, error) {
	var ids []ID
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, err := parseID(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
