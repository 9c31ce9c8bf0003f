package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/craftstock-backend/pkg/config"
	"github.com/angelmondragon/craftstock-backend/pkg/db"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// gooseCommands run against postgres with the selected migration set.
var gooseCommands = map[string]func(ctx context.Context, sqlDB *sql.DB, fsys fs.FS, opts options) error{
	"up": func(ctx context.Context, sqlDB *sql.DB, fsys fs.FS, _ options) error {
		return migrate.Run(ctx, sqlDB, fsys, "up")
	},
	"down": func(ctx context.Context, sqlDB *sql.DB, fsys fs.FS, _ options) error {
		return migrate.Run(ctx, sqlDB, fsys, "down")
	},
	"status": func(ctx context.Context, sqlDB *sql.DB, fsys fs.FS, _ options) error {
		return migrate.Run(ctx, sqlDB, fsys, "status")
	},
	"version": func(ctx context.Context, sqlDB *sql.DB, fsys fs.FS, opts options) error {
		if opts.version == "" {
			return fmt.Errorf("missing -version")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, fsys, opts.version)
	},
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	var opts options
	cmd := flag.String("cmd", "up", "migration command: "+strings.Join(commandNames(), "|"))
	flag.StringVar(&opts.dir, "dir", "", "migrations directory; empty uses the set compiled into this binary")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	switch *cmd {
	case "create":
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name)
		exitOn(err, "create migration")
		fmt.Println("created migration:", path)
		return
	case "validate":
		fsys, err := migrate.Source(opts.dir)
		exitOn(err, "open migrations")
		exitOn(migrate.ValidateFS(fsys), "validate migrations")
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmd,
		"driver": cfg.DB.Driver,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	// sqlite dev databases have no goose history and mirror the models instead
	if *cmd == "automigrate" || cfg.DB.IsSQLite() {
		if *cmd != "automigrate" && *cmd != "up" {
			exitOn(fmt.Errorf("-cmd=%s is not supported for the sqlite driver", *cmd), "migrate")
		}
		exitOn(dbClient.DB().WithContext(ctx).AutoMigrate(models.All()...), "automigrate")
		logg.Info(ctx, "schema auto-migrated")
		return
	}

	run, ok := gooseCommands[*cmd]
	if !ok {
		exitOn(fmt.Errorf("unknown -cmd value %q", *cmd), "migrate")
	}

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)
	fsys, err := migrate.Source(opts.dir)
	requireResource(ctx, logg, "migrations", err)

	logg.Info(ctx, "migrate ready")
	exitOn(run(ctx, sqlDB, fsys, opts), "goose "+*cmd)
	logg.Info(ctx, "migrate finished")
}

func commandNames() []string {
	names := []string{"create", "validate", "automigrate"}
	for name := range gooseCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func exitOn(err error, action string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", action, err)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
