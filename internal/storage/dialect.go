package storage

import (
	"fmt"
	"strings"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// dialect isolates the statements that differ between the supported engines.
// Every statement uses '?' placeholders and is rebound by sqlx before execution.
type dialect interface {
	quote(ident string) string
	createLogTable(table string) string
	createLedgerTable(table string) string
	// returningID is true when INSERT ... RETURNING id is available.
	returningID() bool
	likeEscape() string
	window(unbounded bool) string
	truncateKeepLatest(table string) string
	upsertOption(table string) string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres:
		return postgresDialect{}, nil
	case DriverMySQL:
		return mysqlDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

func columnType(field string, short, long, integer string) string {
	switch {
	case field == models.FieldTime:
		return integer + " NOT NULL"
	case models.IsLongText(field):
		return long + " NULL"
	}
	return short + " NULL"
}

type postgresDialect struct{}

func (postgresDialect) quote(ident string) string { return `"` + ident + `"` }

func (d postgresDialect) createLogTable(table string) string {
	cols := []string{"id BIGSERIAL PRIMARY KEY"}
	for _, f := range models.LogFields {
		cols = append(cols, d.quote(f)+" "+columnType(f, "VARCHAR(255)", "TEXT", "BIGINT"))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.quote(table), strings.Join(cols, ",\n\t"))
}

func (d postgresDialect) createLedgerTable(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (legacy_id BIGINT PRIMARY KEY, log_id BIGINT NOT NULL)", d.quote(table))
}

func (postgresDialect) returningID() bool { return true }

func (postgresDialect) likeEscape() string { return ` ESCAPE '\'` }

func (postgresDialect) window(unbounded bool) string {
	if unbounded {
		return " OFFSET ?"
	}
	return " LIMIT ? OFFSET ?"
}

func (d postgresDialect) truncateKeepLatest(table string) string {
	t := d.quote(table)
	return fmt.Sprintf("DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT ?)", t, t)
}

func (d postgresDialect) upsertOption(table string) string {
	return fmt.Sprintf("INSERT INTO %s (option_name, option_value) VALUES (?, ?) "+
		"ON CONFLICT (option_name) DO UPDATE SET option_value = EXCLUDED.option_value", d.quote(table))
}

type mysqlDialect struct{}

func (mysqlDialect) quote(ident string) string { return "`" + ident + "`" }

func (d mysqlDialect) createLogTable(table string) string {
	cols := []string{"`id` BIGINT(20) NOT NULL AUTO_INCREMENT"}
	for _, f := range models.LogFields {
		cols = append(cols, d.quote(f)+" "+columnType(f, "VARCHAR(255)", "LONGTEXT", "BIGINT(20)"))
	}
	cols = append(cols, "PRIMARY KEY (`id`)")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		d.quote(table), strings.Join(cols, ",\n\t"))
}

func (d mysqlDialect) createLedgerTable(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (`legacy_id` BIGINT(20) NOT NULL, `log_id` BIGINT(20) NOT NULL, "+
		"PRIMARY KEY (`legacy_id`)) ENGINE=InnoDB", d.quote(table))
}

func (mysqlDialect) returningID() bool { return false }

// MySQL already treats backslash as the LIKE escape character.
func (mysqlDialect) likeEscape() string { return "" }

func (mysqlDialect) window(unbounded bool) string {
	if unbounded {
		return " LIMIT 18446744073709551615 OFFSET ?"
	}
	return " LIMIT ? OFFSET ?"
}

// MySQL rejects LIMIT inside IN subqueries, so the kept ids are joined instead.
func (d mysqlDialect) truncateKeepLatest(table string) string {
	t := d.quote(table)
	return fmt.Sprintf("DELETE logs FROM %s logs LEFT JOIN (SELECT id FROM %s ORDER BY id DESC LIMIT ?) logs2 USING (id) "+
		"WHERE logs2.id IS NULL", t, t)
}

func (d mysqlDialect) upsertOption(table string) string {
	return fmt.Sprintf("INSERT INTO %s (option_name, option_value) VALUES (?, ?) "+
		"ON DUPLICATE KEY UPDATE option_value = VALUES(option_value)", d.quote(table))
}
