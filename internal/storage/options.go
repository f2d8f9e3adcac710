package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// OptionStore reads and writes the host's <prefix>options table.
type OptionStore struct {
	db      DBInterface
	dialect dialect
	table   string
}

func newOptionStore(db DBInterface, d dialect, prefix string) *OptionStore {
	return &OptionStore{db: db, dialect: d, table: prefix + "options"}
}

func (o *OptionStore) GetOption(ctx context.Context, name string) (string, bool, error) {
	var v sql.NullString
	err := o.db.GetContext(ctx, &v,
		o.db.Rebind(fmt.Sprintf("SELECT option_value FROM %s WHERE option_name = ?", o.dialect.quote(o.table))), name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get option %s: %w", name, err)
	}
	return v.String, true, nil
}

func (o *OptionStore) SetOption(ctx context.Context, name, value string) error {
	if _, err := o.db.ExecContext(ctx, o.db.Rebind(o.dialect.upsertOption(o.table)), name, value); err != nil {
		return fmt.Errorf("set option %s: %w", name, err)
	}
	return nil
}
