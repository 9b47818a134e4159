// Package all registers every storage backend. Import it for side effects:
//
//	import _ "refiner/internal/storage/all"
package all

import (
	_ "refiner/internal/storage/mssql"
	_ "refiner/internal/storage/postgres"
	_ "refiner/internal/storage/sqlite"
)
