package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"brewlog/internal/authapi"
	"brewlog/internal/client"
	"brewlog/internal/platform/httpserver"
	httptransport "brewlog/internal/transport/http"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"login":       {summary: "sign in and store the session", run: runLogin},
	"register":    {summary: "create an account and sign in", run: runRegister},
	"logout":      {summary: "forget the stored session", run: runLogout},
	"whoami":      {summary: "print the current session state", run: runWhoami},
	"records":     {summary: "list your records (-all for everyone's)", run: runRecords},
	"post":        {summary: "log a drink with a note and optional image", run: runPost},
	"delete":      {summary: "delete one of your records by id", run: runDelete},
	"leaderboard": {summary: "print monthly totals per user", run: runLeaderboard},
	"serve":       {summary: "run the local status API for a UI shell", run: runServe},
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: brewlog <command> [flags]")
	fmt.Fprintln(w)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].summary)
	}
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		p, err := prompt(a, "password: ")
		if err != nil {
			return err
		}
		*password = p
	}

	pair, err := a.auth.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if err := a.manager.Login(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return err
	}
	return printJSON(a.stdout, a.manager.Observer().Snapshot())
}

func runRegister(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	req := authapi.RegisterRequest{}
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVar(&req.Name, "name", "", "display name")
	fs.StringVar(&req.Password, "password", "", "password (prompted when empty)")
	fs.StringVar(&req.ConfirmPassword, "confirm", "", "password confirmation (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.Password == "" {
		p, err := prompt(a, "password: ")
		if err != nil {
			return err
		}
		req.Password = p
	}
	if req.ConfirmPassword == "" {
		p, err := prompt(a, "confirm password: ")
		if err != nil {
			return err
		}
		req.ConfirmPassword = p
	}

	pair, err := a.auth.Register(ctx, req)
	if err != nil {
		return err
	}
	if err := a.manager.Login(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return err
	}
	return printJSON(a.stdout, a.manager.Observer().Snapshot())
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.manager.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "logged out")
	return nil
}

func runWhoami(_ context.Context, a *app, _ []string) error {
	return printJSON(a.stdout, a.manager.Observer().Snapshot())
}

func runRecords(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("records", flag.ContinueOnError)
	all := fs.Bool("all", false, "list every user's records")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		records []client.Record
		err     error
	)
	if *all {
		records, err = a.api.AllRecords(ctx)
	} else {
		records, err = a.api.MyRecords(ctx)
	}
	if err != nil {
		return err
	}
	return printJSON(a.stdout, records)
}

func runPost(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("post", flag.ContinueOnError)
	note := fs.String("note", "", "what you drank")
	image := fs.String("image", "", "path to a photo")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rec := client.NewRecord{Note: *note}
	if *image != "" {
		f, err := os.Open(*image)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer f.Close()
		rec.Image = f
		rec.ImageName = filepath.Base(*image)
	}

	id, err := a.api.CreateRecord(ctx, rec)
	if err != nil {
		return err
	}
	return printJSON(a.stdout, map[string]string{"id": id})
}

func runDelete(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: brewlog delete <record-id>")
	}
	if err := a.api.DeleteRecord(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "deleted", args[0])
	return nil
}

func runLeaderboard(ctx context.Context, a *app, _ []string) error {
	board, err := a.api.Leaderboard(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].Total() > board[j].Total()
	})
	for i, e := range board {
		fmt.Fprintf(a.stdout, "%2d. %-20s %d\n", i+1, e.UserName, e.Total())
	}
	return nil
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", a.cfg.StatusAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	handler := httptransport.NewSessionHandler(a.manager.Observer(), a.manager, a.log)
	srv := httpserver.New(*addr, httptransport.NewRouter(handler, a.registry, a.log))

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("status api listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func prompt(a *app, label string) (string, error) {
	fmt.Fprint(a.stdout, label)
	line, err := a.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
