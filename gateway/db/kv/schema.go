package kv

// Keys in the data attributes bucket are transaction or data item IDs.
// Keys in the manifest paths bucket are the 32 byte manifest ID
// followed directly by the path bytes, so one manifest's entries share
// a fixed-length prefix and can be scanned together.
var (
	dataAttributesBucket = []byte("data-attributes")
	manifestPathsBucket  = []byte("manifest-paths")
)
