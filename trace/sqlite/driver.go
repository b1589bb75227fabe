package sqlite

import (
	"strings"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// pragma is a connection setting applied by the driver on every new
// connection.
type pragma struct {
	name, value string
}

var (
	filePragmas = []pragma{
		{"journal_mode", "WAL"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	memoryPragmas = []pragma{
		{"foreign_keys", "1"},
	}
)

// dsn appends pragmas to path as modernc.org/sqlite _pragma=name(value)
// query parameters.
func dsn(path string, pragmas []pragma) string {
	var b strings.Builder
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p.name)
		b.WriteByte('(')
		b.WriteString(p.value)
		b.WriteByte(')')
	}
	return b.String()
}
