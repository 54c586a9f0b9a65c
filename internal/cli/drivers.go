package cli

// Drivers available to the run command. The cgo sqlite3 driver is added
// in drivers_cgo.go.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)
