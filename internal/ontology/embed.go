package ontology

import "embed"

//go:embed data/*.ttl
var defaultData embed.FS

// LoadDefault loads trackerd's built-in ontology: the vocabulary every
// installation ships with, independent of any site-local ontology files an
// operator drops alongside it.
func LoadDefault() (*Registry, error) {
	return LoadDir(defaultData, "data")
}
