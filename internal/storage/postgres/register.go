package postgres

import "refiner/internal/storage"

func init() {
	// registers the postgres writer and its DDL builder
	storage.Register("postgres", storage.Backend{Open: New, CreateTableSQL: buildCreateTableSQL})
}
