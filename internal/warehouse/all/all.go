// Package all wires every built-in warehouse backend into the warehouse
// factory. Import it for side effects:
//
//	import _ "residuals/internal/warehouse/all"
//
// after which warehouse.New accepts kinds "sqlite", "postgres", "mssql" and
// "mysql". A binary that needs fewer backends can blank-import just those
// packages instead.
package all

import (
	_ "residuals/internal/warehouse/mssql"
	_ "residuals/internal/warehouse/mysql"
	_ "residuals/internal/warehouse/postgres"
	_ "residuals/internal/warehouse/sqlite"
)
