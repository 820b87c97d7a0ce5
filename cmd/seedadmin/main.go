// Command seedadmin creates an administrator account. The password is read
// from the terminal without echo.
package main

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/term"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/flagx"
	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/auth"
	"github.com/dmitrijs2005/clinicguard/internal/server/config"
	"github.com/dmitrijs2005/clinicguard/internal/server/guard"
	"github.com/dmitrijs2005/clinicguard/internal/server/lockout"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/repomanager"
)

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return b, err
}

func parseArgs(args []string) (name, email string, err error) {
	fs := flag.NewFlagSet("seedadmin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&name, "name", "", "administrator display name")
	fs.StringVar(&email, "email", "", "administrator email")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-name", "-email"})); err != nil {
		return "", "", err
	}
	return name, email, nil
}

func prompt(r *bufio.Reader, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	s, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	name, email, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("arguments: %v", err)
	}

	in := bufio.NewReader(os.Stdin)
	if name == "" {
		if name, err = prompt(in, "Name: "); err != nil {
			log.Fatal(err)
		}
	}
	if email == "" {
		if email, err = prompt(in, "Email: "); err != nil {
			log.Fatal(err)
		}
	}

	password, err := readPassword("Password: ")
	if err != nil {
		log.Fatalf("read password: %v", err)
	}
	confirm, err := readPassword("Repeat password: ")
	if err != nil {
		log.Fatalf("read password: %v", err)
	}
	match := bytes.Equal(password, confirm)
	common.WipeByteArray(confirm)
	if !match {
		log.Fatal("passwords do not match")
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	defer db.Close()

	logger := logging.NewJSONLogger(os.Stderr, cfg.LogLevel)
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	security := audit.NewDBSink(rm.AuditLogs(db), models.ChannelSecurity, logger)
	machine := lockout.New(rm.Accounts(db), security, lockout.WithLogger(logger))
	g := guard.New(db, rm, security, logger)
	svc := auth.NewService(db, rm, g, machine, security, cfg, auth.WithLogger(logger))

	sum, err := svc.Register(ctx, auth.RegisterInput{
		Name:       name,
		Email:      email,
		Password:   string(password),
		Role:       string(models.RoleAdmin),
		InviteCode: cfg.AdminInviteCode,
	})
	common.WipeByteArray(password)
	if err != nil {
		log.Fatalf("register administrator: %v", err)
	}

	fmt.Printf("Administrator %s created.\n", sum.Email)
}
