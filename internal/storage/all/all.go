// Package all links every storage backend so storage.New can open any
// registered kind.
package all

import (
	_ "nl2sql/internal/storage/mssql"
	_ "nl2sql/internal/storage/postgres"
	_ "nl2sql/internal/storage/sqlite"
)
