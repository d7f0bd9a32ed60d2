package all

import (
	"testing"

	"residuals/internal/warehouse"
)

func TestAllKindsRegistered(t *testing.T) {
	kinds := map[string]bool{}
	for _, k := range warehouse.ListKinds() {
		kinds[k] = true
	}
	for _, want := range []string{"sqlite", "postgres", "mssql", "mysql"} {
		if !kinds[want] {
			t.Errorf("kind %q not registered; have %v", want, warehouse.ListKinds())
		}
	}
}
