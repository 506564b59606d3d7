//go:build !cgo

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

var errNoCGO = fmt.Errorf("dolt: this binary was built without CGO support; rebuild with CGO_ENABLED=1")

// openEmbeddedDolt returns an error in non-CGO builds. Use the mysql backend
// against a dolt sql-server instead.
func openEmbeddedDolt(_ context.Context, _, _ string) (*sql.DB, func() error, error) {
	return nil, nil, fmt.Errorf("embedded dolt backend requires CGO: %w\n\nTo use Dolt without CGO, run `dolt sql-server` and set storage.backend=mysql", errNoCGO)
}
