// Package objectmap maintains an object centric volumetric map. Per frame segments are associated
// with persistent object identities, fused into per object sub-maps, and the sub-maps are moved
// with their objects as the tracker observes motion.
package objectmap

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// ObjectID identifies one object volume. The zero value is reserved for unknown or background
// observations and is never assigned to an object.
type ObjectID uint32

// MaxObjectID is the largest object id. Once it is used the allocator refuses further ids.
const MaxObjectID = ObjectID(math.MaxUint32)

// ReservedID is never stored in a Map.
const ReservedID ObjectID = 0

func (id ObjectID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// SemanticClass is a semantic label attached to segments and objects.
type SemanticClass uint32

// BackgroundClass marks segments and objects without a meaningful semantic label.
const BackgroundClass SemanticClass = 0

// IsBackground reports whether the class is the background label.
func (c SemanticClass) IsBackground() bool {
	return c == BackgroundClass
}

var (
	// ErrDuplicateIdentity is returned when inserting an id that is already in the map.
	ErrDuplicateIdentity = errors.New("object identity already exists")
	// ErrReservedIdentity is returned when inserting the reserved id.
	ErrReservedIdentity = errors.New("object identity 0 is reserved")
	// ErrUnknownObject is returned by operations on an id that is not in the map.
	ErrUnknownObject = errors.New("unknown object")
	// ErrIdentitiesExhausted is returned once the largest id has been handed out or inserted.
	ErrIdentitiesExhausted = errors.New("object identities exhausted")
)
