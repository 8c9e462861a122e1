// Command questauth manages a Quest API session from the terminal.
//
// Usage:
//
//	questauth [-config file] login -u USER [-p PASS] [-remember]
//	questauth [-config file] me
//	questauth [-config file] status
//	questauth [-config file] get PATH
//	questauth [-config file] logout
//	questauth [-config file] lint
//
// The password falls back to $QUESTAUTH_PASSWORD. Credentials persist in the
// configured store, so a session survives between invocations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/lifequest/questauth"
)

const envPassword = "QUESTAUTH_PASSWORD"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("questauth", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", os.Getenv("QUESTAUTH_CONFIG"), "path to a YAML config file")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: questauth [-config file] <login|me|status|get|logout|lint> [args]")
		return 2
	}

	cfg, err := questauth.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	cmd, rest := global.Arg(0), global.Args()[1:]

	if cmd == "lint" {
		return lint(cfg, stdout, stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Each command reads the stored session itself.
	cfg.Session.HydrateOnBuild = false
	client, err := questauth.New().WithConfig(cfg).BuildContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "build client: %v\n", err)
		return 1
	}
	defer client.Close()

	switch cmd {
	case "login":
		err = login(ctx, client, rest, stdout, stderr)
	case "me":
		err = me(ctx, client, stdout)
	case "status":
		err = status(ctx, client, stdout)
	case "get":
		err = get(ctx, client, rest, stdout)
	case "logout":
		client.Logout(ctx)
		fmt.Fprintln(stdout, "logged out")
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, describe(err))
		if errors.Is(err, questauth.ErrAuthExpired) {
			fmt.Fprintln(stderr, "session ended, run: questauth login -u USER")
		}
		return 1
	}
	return 0
}

func login(ctx context.Context, client *questauth.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	username := fs.String("u", "", "username")
	password := fs.String("p", os.Getenv(envPassword), "password (default $"+envPassword+")")
	remember := fs.Bool("remember", false, "keep a refresh token so the session outlives the access token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := client.Login(ctx, *username, *password, *remember); err != nil {
		return err
	}
	if u := client.User(); u != nil {
		fmt.Fprintf(stdout, "logged in as %s\n", u.Username)
	} else {
		fmt.Fprintln(stdout, "logged in")
	}
	return nil
}

func me(ctx context.Context, client *questauth.Client, stdout io.Writer) error {
	if err := client.RefreshIdentity(ctx); err != nil {
		return err
	}
	u := client.User()
	if u == nil {
		fmt.Fprintln(stdout, "not logged in")
		return nil
	}
	return writeJSON(stdout, u.Raw)
}

func status(ctx context.Context, client *questauth.Client, stdout io.Writer) error {
	info, err := client.SessionInfo(ctx)
	if err != nil {
		return err
	}
	if !info.HasAccessToken {
		fmt.Fprintln(stdout, "not logged in")
		return nil
	}
	fmt.Fprintf(stdout, "subject:       %s\n", info.Subject)
	if !info.ExpiresAt.IsZero() {
		fmt.Fprintf(stdout, "access expires: %s (%s)\n", info.ExpiresAt.Format(time.RFC3339), time.Until(info.ExpiresAt).Round(time.Second))
	}
	fmt.Fprintf(stdout, "refreshable:   %t\n", info.HasRefreshToken)
	return nil
}

func get(ctx context.Context, client *questauth.Client, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: questauth get PATH")
	}
	var out json.RawMessage
	if err := client.Do(ctx, "GET", args[0], nil, &out); err != nil {
		return err
	}
	return writeJSON(stdout, out)
}

func lint(cfg questauth.Config, stdout, stderr io.Writer) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}
	ws := cfg.Lint()
	for _, w := range ws {
		level := "info"
		if w.Severity == questauth.LintWarn {
			level = "warn"
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", level, w.Code, w.Message)
	}
	if len(ws) == 0 {
		fmt.Fprintln(stdout, "config ok")
	}
	return 0
}

func writeJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = w.Write(append(raw, '\n'))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func describe(err error) string {
	var apiErr *questauth.APIError
	switch {
	case errors.Is(err, questauth.ErrInvalidCredentials):
		return err.Error()
	case errors.As(err, &apiErr):
		return fmt.Sprintf("request failed: %v", apiErr)
	case errors.Is(err, questauth.ErrNetwork):
		return fmt.Sprintf("cannot reach the API: %v", err)
	default:
		return err.Error()
	}
}
