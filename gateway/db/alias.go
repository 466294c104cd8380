package db

import "github.com/permagate/permagate/gateway/db/iface"

// ReadOnlyDatabase exposes the gateway DB's read only functions.
type ReadOnlyDatabase = iface.ReadOnlyDatabase

// WriteAccessDatabase exposes the gateway DB's writing functions.
type WriteAccessDatabase = iface.WriteAccessDatabase

// Database defines the necessary methods for the gateway's DB which may
// be implemented by any key-value or relational database in practice.
// This is the full database interface which should not be used often.
// Prefer a more restrictive interface in this package.
type Database = iface.Database
