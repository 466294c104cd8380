// Package db defines the ability to create a new database for the
// gateway's persistent metadata.
package db

import "github.com/permagate/permagate/gateway/db/kv"

// NewDB initializes a new DB.
func NewDB(dirPath string) (Database, error) {
	return kv.NewKVStore(dirPath)
}
