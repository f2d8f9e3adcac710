// cmd/maillog-migrate/main.go
package main

import (
	"fmt"
	"os"

	"github.com/TheCrowned/Post-SMTP/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "maillog-migrate"}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the options and legacy post tables the email log relies on",
	Run: func(cmd *cobra.Command, args []string) {
		v := config.New()
		_ = v.BindPFlag("db.dsn", cmd.Flags().Lookup("db"))
		_ = v.BindPFlag("db.driver", cmd.Flags().Lookup("driver"))

		cfg, err := config.Load(v, "")
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		dir, _ := cmd.Flags().GetString("path")
		source := fmt.Sprintf("file://%s/%s", dir, cfg.DB.Driver)
		m, err := migrate.New(source, config.MigrateURL(cfg.DB.Driver, cfg.DB.DSN))
		if err != nil {
			fmt.Printf("Failed to initialize migrations: %v\n", err)
			os.Exit(1)
		}
		down, _ := cmd.Flags().GetBool("down")
		if down {
			err = m.Down()
		} else {
			err = m.Up()
		}
		if err != nil && err != migrate.ErrNoChange {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied successfully")
	},
}

func main() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("db", "", "Database DSN (optional if MAILLOG_DB_DSN or DB_* env vars are set)")
	migrateCmd.Flags().String("driver", "", "Database driver: postgres or mysql")
	migrateCmd.Flags().String("path", "migrations", "Directory holding the per-driver migration folders")
	migrateCmd.Flags().Bool("down", false, "Roll every migration back")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
