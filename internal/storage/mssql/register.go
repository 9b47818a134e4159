package mssql

import "refiner/internal/storage"

func init() {
	storage.Register("mssql", storage.Backend{Open: New, CreateTableSQL: buildCreateTableSQL})
}
