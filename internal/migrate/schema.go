package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var schema embed.FS

// Schema returns the migrations compiled into the binary.
func Schema() fs.FS {
	sub, err := fs.Sub(schema, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}
