// File: cmd/accounts/main.go
// Project: Coldport
// Description: Operator CLI for out-of-band account administration —
//              create players, list who is online, force-expire a session.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/session"
	"golang.org/x/term"
)

func main() {
	createCmd := flag.NewFlagSet("create", flag.ExitOnError)
	createName := createCmd.String("name", "", "Player name for the new account")

	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listVerbose := listCmd.Bool("v", false, "Verbose output")

	logoutCmd := flag.NewFlagSet("logout", flag.ExitOnError)
	logoutName := logoutCmd.String("name", "", "Player name to force-logout")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	db, err := database.NewDB(database.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap store: %v\n", err)
		os.Exit(1)
	}

	auth := session.NewAuth(db)

	switch os.Args[1] {
	case "create":
		if err := createCmd.Parse(os.Args[2:]); err != nil {
			os.Exit(1)
		}
		if *createName == "" {
			fmt.Fprintln(os.Stderr, "Error: -name is required")
			createCmd.Usage()
			os.Exit(1)
		}
		if err := createAccount(ctx, auth, *createName); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create account: %v\n", err)
			os.Exit(1)
		}

	case "list":
		listCmd.Parse(os.Args[2:])
		if err := listAccounts(ctx, db, *listVerbose); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list accounts: %v\n", err)
			os.Exit(1)
		}

	case "logout":
		if err := logoutCmd.Parse(os.Args[2:]); err != nil {
			os.Exit(1)
		}
		if *logoutName == "" {
			fmt.Fprintln(os.Stderr, "Error: -name is required")
			logoutCmd.Usage()
			os.Exit(1)
		}
		if err := forceLogout(ctx, db, *logoutName); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to force logout: %v\n", err)
			os.Exit(1)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Coldport account administration")
	fmt.Println("\nUsage:")
	fmt.Println("  accounts create -name <name>")
	fmt.Println("  accounts list [-v]")
	fmt.Println("  accounts logout -name <name>")
}

func createAccount(ctx context.Context, auth *session.Auth, name string) error {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read password confirmation: %w", err)
	}
	fmt.Println()

	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	_, playerID, err := auth.Register(ctx, name, string(password))
	if err != nil {
		return err
	}

	fmt.Printf("Account created: name=%s player_id=%d\n", name, playerID)
	return nil
}

func listAccounts(ctx context.Context, db *database.DB, verbose bool) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, credits, is_online FROM players ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id, credits int64
		var name string
		var online int
		if err := rows.Scan(&id, &name, &credits, &online); err != nil {
			return err
		}
		count++
		status := "offline"
		if online == 1 {
			status = "online"
		}
		if verbose {
			fmt.Printf("  #%d %-20s credits=%-10d %s\n", id, name, credits, status)
		} else {
			fmt.Printf("  #%d %s (%s)\n", id, name, status)
		}
	}
	fmt.Printf("\n%d accounts\n", count)
	return nil
}

func forceLogout(ctx context.Context, db *database.DB, name string) error {
	var playerID int64
	if err := db.QueryRowContext(ctx, `SELECT id FROM players WHERE name = ?`, name).Scan(&playerID); err != nil {
		return fmt.Errorf("player not found: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE player_id = ?`, playerID); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `UPDATE players SET is_online = 0 WHERE id = ?`, playerID); err != nil {
		return err
	}
	fmt.Printf("Sessions cleared for %s\n", name)
	return nil
}
