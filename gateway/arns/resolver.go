// Package arns resolves Arweave Name System names to the transaction
// IDs their records point at. Names arrive as the first DNS label of a
// gateway subdomain request; undernames separate the record from the
// registered base name with an underscore, so "logo_ardrive" asks for
// the "logo" record of "ardrive" while a bare "ardrive" asks for the
// root record.
package arns

import (
	"context"
	"strings"
	"time"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
)

// RootRecord addresses the base record of a registered name.
const RootRecord = "@"

// ErrNotFound is returned when a name has no record.
var ErrNotFound = errors.New("name not found")

// Resolution is one resolved name record.
type Resolution struct {
	// Name is the full label as requested, e.g. "logo_ardrive".
	Name string
	// BaseName is the registered name, e.g. "ardrive".
	BaseName string
	// Record is the record inside the name, RootRecord for the base.
	Record string
	// TxID is the transaction the record points at.
	TxID arweave.ID
	// TTLSeconds is the registry lifetime of the record.
	TTLSeconds uint64
	// ProcessID identifies the owning process when the registry
	// reports one.
	ProcessID string
	// ResolvedAt is when this record was obtained from the registry.
	ResolvedAt time.Time
}

// Resolver answers name lookups.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*Resolution, error)
}

// SplitName splits a request label into its record and base name. The
// base name is everything after the last underscore, so undernames may
// themselves contain underscores. A label without an underscore
// addresses the root record of the whole label.
func SplitName(name string) (record, base string) {
	i := strings.LastIndex(name, "_")
	if i < 0 {
		return RootRecord, name
	}
	return name[:i], name[i+1:]
}
