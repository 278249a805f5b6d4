package config

import "os"

// ExpandEnv expands $VAR and ${VAR} references in raw YAML bytes before
// parsing, so resorch.yaml can reference citation-endpoint tokens without
// committing them to disk. Missing variables expand to the empty string.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
