package storage

import "context"

// InitStore connects and makes sure the log table exists.
func InitStore(ctx context.Context, driver, dsn, prefix string) (*SQLStore, error) {
	store, err := NewSQLStore(driver, dsn, prefix)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
