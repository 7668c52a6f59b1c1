package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// the schema is managed by the command itself, so open without migrating
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	migrationsFS := MigrationsFS()

	switch action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ All migrations applied")

	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Rolled back one migration")

	case "status":
		status, err := database.MigrationStatus(migrationsFS)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "=== Migration Status ===")
		fmt.Fprintf(out, "Current version: %d\n", status.Current)
		fmt.Fprintf(out, "Latest available: %d\n", status.Latest)
		fmt.Fprintf(out, "Dirty: %v\n", status.Dirty)
		if status.Dirty {
			fmt.Fprintln(out, "⚠️  A migration failed mid-way. Inspect the database, then run: people-count migrate force <version>")
		} else if status.Pending() {
			fmt.Fprintf(out, "%d migration(s) pending. Run: people-count migrate up\n", status.Latest-status.Current)
		}
		return nil

	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: people-count migrate %s <version_number>", action)
		}
		version, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if action == "force" {
			err = database.MigrateForce(migrationsFS, int(version))
		} else {
			err = database.MigrateTo(migrationsFS, uint(version))
		}
		if err != nil {
			return err
		}

	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Database Migration Commands

Usage: people-count migrate <command>

Commands:
  up              Apply all pending migrations
  down            Roll back one migration
  status          Show current migration status and version
  version <N>     Migrate to version N
  force <N>       Force the recorded version to N (recovery only)
  help            Show this help message
`)
}
