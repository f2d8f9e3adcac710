package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/TheCrowned/Post-SMTP/internal/config"
	internal_http "github.com/TheCrowned/Post-SMTP/internal/http"
	"github.com/TheCrowned/Post-SMTP/internal/log"
	internal_storage "github.com/TheCrowned/Post-SMTP/internal/storage"
	"github.com/TheCrowned/Post-SMTP/pkg/mailer"
	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/TheCrowned/Post-SMTP/pkg/service"
	"github.com/TheCrowned/Post-SMTP/pkg/storage"
	"github.com/spf13/cobra"
)

var v = config.New()

// SetupCLI registers the email log commands and their shared flags on rootCmd.
func SetupCLI(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a config file (yaml, json or toml)")
	flags.String("db", "", "Database DSN (overrides MAILLOG_DB_DSN and DB_* env vars)")
	flags.String("driver", "", "Database driver: postgres or mysql")
	flags.String("prefix", "", "Table prefix")
	_ = v.BindPFlag("db.dsn", flags.Lookup("db"))
	_ = v.BindPFlag("db.driver", flags.Lookup("driver"))
	_ = v.BindPFlag("db.prefix", flags.Lookup("prefix"))

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the email log HTTP API",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			svc, store := initService(cfg, true)
			defer store.Close()
			if err := internal_http.StartServer(cfg.HTTP.Port, svc); err != nil {
				log.GetLogger().Errorf("Server stopped: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "", "HTTP port")
	_ = v.BindPFlag("http.port", serveCmd.Flags().Lookup("port"))

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Create or upgrade the email log table",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			_, store := initService(cfg, false)
			defer store.Close()
			fmt.Fprintf(os.Stdout, "Email log table %s is at schema version %s\n", store.Table(), internal_storage.SchemaVersion)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List email logs",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			svc, store := initService(cfg, false)
			defer store.Close()
			q, err := listQuery(cmd, svc)
			if err != nil {
				fail("invalid list options", err)
			}
			listLogs(svc, q)
		},
	}
	listCmd.Flags().String("search", "", "Case-insensitive substring to match")
	listCmd.Flags().String("from", "", "Earliest date (YYYY-MM-DD or Unix seconds)")
	listCmd.Flags().String("to", "", "Latest date (YYYY-MM-DD or Unix seconds)")
	listCmd.Flags().Int("offset", 0, "Rows to skip")
	listCmd.Flags().Int("limit", 25, "Rows to show, -1 for all")
	listCmd.Flags().String("order-by", storage.DefaultOrderBy, "Field to order by")
	listCmd.Flags().String("order-dir", models.OrderDesc, "asc or desc")

	viewCmd := &cobra.Command{
		Use:   "view [id]",
		Short: "Show one email log, or a single field of it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fail("id must be numeric", err)
			}
			field, _ := cmd.Flags().GetString("field")
			cfg := loadConfig(cmd)
			svc, store := initService(cfg, false)
			defer store.Close()
			viewLog(svc, id, field)
		},
	}
	viewCmd.Flags().String("field", "", "Only print this field, e.g. session_transcript")

	deleteCmd := &cobra.Command{
		Use:   "delete [ids...]",
		Short: "Delete email logs by id, or all of them with --all",
		Run: func(cmd *cobra.Command, args []string) {
			ids, err := selection(cmd, args)
			if err != nil {
				fail("invalid selection", err)
			}
			cfg := loadConfig(cmd)
			svc, store := initService(cfg, false)
			defer store.Close()
			ok, err := svc.Delete(context.Background(), ids)
			if err != nil {
				fail("failed to delete email logs", err)
			}
			if !ok {
				fmt.Fprintf(os.Stdout, "No email logs matched.\n")
				return
			}
			fmt.Fprintf(os.Stdout, "Logs deleted successfully\n")
		},
	}
	deleteCmd.Flags().Bool("all", false, "Delete every email log")

	truncateCmd := &cobra.Command{
		Use:   "truncate [keep]",
		Short: "Keep only the newest email logs",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			keep := cfg.Logs.Keep
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					fail("keep must be numeric", err)
				}
				keep = n
			}
			svc, store := initService(cfg, false)
			defer store.Close()
			n, err := svc.Truncate(context.Background(), keep)
			if err != nil {
				fail("failed to truncate email logs", err)
			}
			fmt.Fprintf(os.Stdout, "Deleted %d email logs, kept the newest %d\n", n, keep)
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export [ids...]",
		Short: "Export email logs as CSV",
		Run: func(cmd *cobra.Command, args []string) {
			ids, err := selection(cmd, args)
			if err != nil {
				fail("invalid selection", err)
			}
			cfg := loadConfig(cmd)
			svc, store := initService(cfg, false)
			defer store.Close()

			var w io.Writer = os.Stdout
			if out, _ := cmd.Flags().GetString("out"); out != "" {
				f, err := os.Create(out)
				if err != nil {
					fail("cannot create output file", err)
				}
				defer f.Close()
				w = f
			}
			n, err := svc.Export(context.Background(), w, ids)
			if err != nil {
				fail("failed to export email logs", err)
			}
			log.GetLogger().Infof("Exported %d email logs", n)
		},
	}
	exportCmd.Flags().Bool("all", false, "Export every email log (default when no ids are given)")
	exportCmd.Flags().String("out", "", "Write to this file instead of stdout")

	migrateLegacyCmd := &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Move legacy post metadata logs into the email log table",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			svc, store := initService(cfg, false)
			defer store.Close()
			report, err := svc.MigrateLegacy(context.Background(), store.LegacySource())
			if err != nil {
				fail("legacy migration failed", err)
			}
			fmt.Fprintf(os.Stdout, "Migrated %d fields from %d legacy records (%d failed)\n",
				report.Migrated, report.Records, report.Failed)
			if report.Failed > 0 {
				os.Exit(1)
			}
		},
	}

	rootCmd.AddCommand(serveCmd, schemaCmd, listCmd, viewCmd, deleteCmd, truncateCmd, exportCmd, migrateLegacyCmd)
}

func loadConfig(cmd *cobra.Command) *config.Config {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, file)
	if err != nil {
		fail("invalid configuration", err)
	}
	log.Configure(cfg.Log.Level, cfg.Log.Format)
	log.GetLogger().Debugf("Using %s store with prefix %q", cfg.DB.Driver, cfg.DB.Prefix)
	return cfg
}

func initService(cfg *config.Config, withMailer bool) (*service.LogService, *internal_storage.SQLStore) {
	store, err := internal_storage.InitStore(context.Background(), cfg.DB.Driver, cfg.DB.DSN, cfg.DB.Prefix)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	opts := []service.Option{
		service.WithRetention(cfg.Logs.Keep),
		service.WithTimeLayout(cfg.Logs.TimeLayout),
	}
	if withMailer && cfg.SMTP.Host != "" {
		opts = append(opts, service.WithMailer(mailer.NewSMTPMailer(mailer.Config{
			Host:          cfg.SMTP.Host,
			Port:          cfg.SMTP.Port,
			Username:      cfg.SMTP.Username,
			Password:      cfg.SMTP.Password,
			From:          cfg.SMTP.From,
			SkipTLSVerify: cfg.SMTP.SkipTLSVerify,
		})))
	}
	return service.NewLogService(store, log.GetLogger(), opts...), store
}

func listQuery(cmd *cobra.Command, svc *service.LogService) (models.Query, error) {
	f := cmd.Flags()
	q := models.Query{}
	q.Search, _ = f.GetString("search")
	q.Offset, _ = f.GetInt("offset")
	q.Limit, _ = f.GetInt("limit")
	q.OrderBy, _ = f.GetString("order-by")
	q.OrderDir, _ = f.GetString("order-dir")
	if s, _ := f.GetString("from"); s != "" {
		from, err := svc.ParseBound(s, false)
		if err != nil {
			return q, err
		}
		q.From = &from
	}
	if s, _ := f.GetString("to"); s != "" {
		to, err := svc.ParseBound(s, true)
		if err != nil {
			return q, err
		}
		q.To = &to
	}
	return q, nil
}

// selection turns positional ids into a store selection; none (or --all) selects every record.
func selection(cmd *cobra.Command, args []string) ([]int64, error) {
	all, _ := cmd.Flags().GetBool("all")
	if all || len(args) == 0 {
		if cmd.Name() == "delete" && !all {
			return nil, fmt.Errorf("give ids to delete or --all")
		}
		return []int64{models.AllRecords}, nil
	}
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("id %q is not numeric", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func listLogs(svc *service.LogService, q models.Query) {
	page, err := svc.List(context.Background(), q)
	if err != nil {
		fail("failed to list email logs", err)
	}
	if len(page.Rows) == 0 {
		fmt.Fprintf(os.Stdout, "No email logs found (%d total).\n", page.Total)
		return
	}
	fmt.Fprintf(os.Stdout, "Email logs (%d of %d matching, %d total):\n", len(page.Rows), page.Filtered, page.Total)
	for _, r := range page.Rows {
		fmt.Fprintf(os.Stdout, "- ID: %d, To: %s, Subject: %s, Status: %s, Time: %s\n",
			r.ID, r.ToHeader, r.OriginalSubject, status(r.Success), svc.FormatTime(r.Time))
	}
}

func viewLog(svc *service.LogService, id int64, field string) {
	ctx := context.Background()
	if field != "" {
		value, err := svc.GetField(ctx, id, field)
		if err != nil {
			fail("failed to view email log", err)
		}
		fmt.Fprintln(os.Stdout, value)
		return
	}
	r, err := svc.Get(ctx, id)
	if err != nil {
		fail("failed to view email log", err)
	}
	fmt.Fprintf(os.Stdout, "ID:        %d\n", r.ID)
	fmt.Fprintf(os.Stdout, "Time:      %s\n", svc.FormatTime(r.Time))
	fmt.Fprintf(os.Stdout, "Solution:  %s\n", r.Solution)
	fmt.Fprintf(os.Stdout, "Transport: %s\n", r.TransportURI)
	fmt.Fprintf(os.Stdout, "Status:    %s\n", status(r.Success))
	fmt.Fprintf(os.Stdout, "From:      %s\n", r.FromHeader)
	fmt.Fprintf(os.Stdout, "To:        %s\n", r.ToHeader)
	if r.CcHeader != "" {
		fmt.Fprintf(os.Stdout, "Cc:        %s\n", r.CcHeader)
	}
	if r.BccHeader != "" {
		fmt.Fprintf(os.Stdout, "Bcc:       %s\n", r.BccHeader)
	}
	if r.ReplyToHeader != "" {
		fmt.Fprintf(os.Stdout, "Reply-To:  %s\n", r.ReplyToHeader)
	}
	fmt.Fprintf(os.Stdout, "Subject:   %s\n\n%s\n", r.OriginalSubject, r.OriginalMessage)
}

func status(o models.Outcome) string {
	if o.IsSuccess() {
		return "sent"
	}
	if o.Detail() == "" {
		return "failed"
	}
	return "failed: " + o.Detail()
}

func fail(msg string, err error) {
	log.GetLogger().Errorf("%s: %v", msg, err)
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}
