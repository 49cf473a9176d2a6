// Package uri implements LWM2M resource addressing.
//
// A URI is the {object, instance, resource} triplet used to address data on
// an LWM2M client. Each component is optional; flags record which components
// are set and whether the address denotes the registration ("rd") or
// bootstrap ("bs") interface instead of an object.
//
// URI is an immutable value type and is passed by value between packages.
package uri

import (
	"strconv"
	"strings"
)

// ID is an object, instance or resource identifier.
type ID = uint16

const (
	// Invalid marks an unset component.
	Invalid ID = 0xFFFF

	// MaxID is the largest identifier accepted by the parsers.
	MaxID ID = Invalid - 1
)

// Well-known path segments of the LWM2M interfaces.
const (
	RegistrationSegment = "rd"
	BootstrapSegment    = "bs"
)

// Flag records which parts of a URI are meaningful.
type Flag uint8

const (
	// FlagObjectID is set when ObjectID is valid.
	FlagObjectID Flag = 1 << iota
	// FlagInstanceID is set when InstanceID is valid.
	FlagInstanceID
	// FlagResourceID is set when ResourceID is valid.
	FlagResourceID
	// FlagDM marks an address decoded from an object path.
	FlagDM
	// FlagRegistration marks the registration interface.
	FlagRegistration
	// FlagBootstrap marks the bootstrap interface.
	FlagBootstrap
	// FlagDeleteAll marks the root path "/" (bootstrap delete all).
	FlagDeleteAll
)

const setMask = FlagObjectID | FlagInstanceID | FlagResourceID

// URI addresses an object, an object instance or a resource.
type URI struct {
	ObjectID   ID
	InstanceID ID
	ResourceID ID
	Flags      Flag
}

// Empty returns a URI with no component set.
func Empty() URI {
	return URI{ObjectID: Invalid, InstanceID: Invalid, ResourceID: Invalid}
}

// Object returns the URI of a whole object.
func Object(oid ID) URI {
	u := Empty()
	u.ObjectID = oid
	u.Flags = FlagObjectID
	return u
}

// Instance returns the URI of an object instance.
func Instance(oid, iid ID) URI {
	u := Object(oid)
	u.InstanceID = iid
	u.Flags |= FlagInstanceID
	return u
}

// Resource returns the URI of a resource.
func Resource(oid, iid, rid ID) URI {
	u := Instance(oid, iid)
	u.ResourceID = rid
	u.Flags |= FlagResourceID
	return u
}

// Make builds a URI from raw identifiers. Invalid leaves a component unset.
// A resource without an instance is rejected, as is a component above MaxID.
func Make(oid, iid, rid ID) (URI, error) {
	u := Empty()
	if oid == Invalid {
		if iid != Invalid || rid != Invalid {
			return u, ErrInvalidURI
		}
		return u, nil
	}
	if oid > MaxID {
		return u, ErrIDOutOfRange
	}
	u.ObjectID = oid
	u.Flags = FlagObjectID

	if iid != Invalid {
		u.InstanceID = iid
		u.Flags |= FlagInstanceID
	}
	if rid != Invalid {
		if iid == Invalid {
			return Empty(), ErrInvalidURI
		}
		u.ResourceID = rid
		u.Flags |= FlagResourceID
	}
	return u, nil
}

// Update recomputes the set flags from the identifier values. Components equal
// to Invalid are cleared; interface flags are preserved.
func (u URI) Update() URI {
	u.Flags &^= setMask
	if u.ObjectID != Invalid {
		u.Flags |= FlagObjectID
	}
	if u.InstanceID != Invalid {
		u.Flags |= FlagInstanceID
	}
	if u.ResourceID != Invalid {
		u.Flags |= FlagResourceID
	}
	return u
}

// HasObject reports whether the object id is set.
func (u URI) HasObject() bool { return u.Flags&FlagObjectID != 0 }

// HasInstance reports whether the instance id is set.
func (u URI) HasInstance() bool { return u.Flags&FlagInstanceID != 0 }

// HasResource reports whether the resource id is set.
func (u URI) HasResource() bool { return u.Flags&FlagResourceID != 0 }

// IsRegistration reports whether the URI addresses the registration interface.
func (u URI) IsRegistration() bool { return u.Flags&FlagRegistration != 0 }

// IsBootstrap reports whether the URI addresses the bootstrap interface.
func (u URI) IsBootstrap() bool { return u.Flags&FlagBootstrap != 0 }

// IsDeleteAll reports whether the URI is the root path.
func (u URI) IsDeleteAll() bool { return u.Flags&FlagDeleteAll != 0 }

// IsEmpty reports whether no component is set.
func (u URI) IsEmpty() bool { return u.Flags&setMask == 0 }

// Match reports whether target lies within the subtree addressed by u.
// An empty u matches everything.
func (u URI) Match(target URI) bool {
	if u.HasObject() && (!target.HasObject() || u.ObjectID != target.ObjectID) {
		return false
	}
	if u.HasInstance() && (!target.HasInstance() || u.InstanceID != target.InstanceID) {
		return false
	}
	if u.HasResource() && (!target.HasResource() || u.ResourceID != target.ResourceID) {
		return false
	}
	return true
}

// String returns the path form "/o[/i[/r]]". Interface URIs render as "/rd"
// or "/bs"; the empty URI renders as "/".
func (u URI) String() string {
	var b strings.Builder
	switch {
	case u.IsRegistration():
		b.WriteString("/" + RegistrationSegment)
	case u.IsBootstrap():
		b.WriteString("/" + BootstrapSegment)
	}
	if u.HasObject() {
		b.WriteByte('/')
		b.WriteString(strconv.FormatUint(uint64(u.ObjectID), 10))
		if u.HasInstance() {
			b.WriteByte('/')
			b.WriteString(strconv.FormatUint(uint64(u.InstanceID), 10))
			if u.HasResource() {
				b.WriteByte('/')
				b.WriteString(strconv.FormatUint(uint64(u.ResourceID), 10))
			}
		}
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Segments returns the Uri-Path option values addressing u. altPath, when
// non-empty, is prepended as the first segment. A resource set without an
// instance is encoded with an empty instance segment.
func (u URI) Segments(altPath string) []string {
	segs := make([]string, 0, 4)
	if p := strings.Trim(altPath, "/"); p != "" {
		segs = append(segs, p)
	}
	if !u.HasObject() {
		return segs
	}
	segs = append(segs, strconv.FormatUint(uint64(u.ObjectID), 10))
	switch {
	case u.HasInstance():
		segs = append(segs, strconv.FormatUint(uint64(u.InstanceID), 10))
	case u.HasResource():
		segs = append(segs, "")
	}
	if u.HasResource() {
		segs = append(segs, strconv.FormatUint(uint64(u.ResourceID), 10))
	}
	return segs
}
