// Command tabsession serves the guarded portal and manages a stored
// session from the command line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aussiebroadwan/tabsession/internal/app"
	"github.com/aussiebroadwan/tabsession/pkg/guard"
	"github.com/aussiebroadwan/tabsession/pkg/monitor"
	"github.com/aussiebroadwan/tabsession/pkg/session"
)

const usage = `usage: tabsession <command> [flags]

commands:
  serve           run the guarded portal
  login           sign in and store the session
  logout          revoke and forget the stored session
  status          show session freshness and auth service health
  token           print the current access token
  watch           monitor the session, refreshing as needed
  check <path>    evaluate a route guard against the stored session
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "serve" {
		err = serve(ctx, cfg)
	} else {
		err = runClient(ctx, cfg, cmd, args)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func serve(ctx context.Context, cfg app.Config) error {
	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run()
}

func runClient(ctx context.Context, cfg app.Config, cmd string, args []string) error {
	client, err := app.NewClient(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("closing session store: %v", err)
		}
	}()

	switch cmd {
	case "login":
		return login(ctx, client, args)
	case "logout":
		client.Manager.Logout(ctx)
		fmt.Println("signed out")
		return nil
	case "status":
		return status(ctx, client)
	case "token":
		tok, ok := client.Manager.CurrentToken(ctx)
		if !ok {
			return errors.New("no session; run tabsession login")
		}
		fmt.Println(tok)
		return nil
	case "watch":
		return watch(ctx, client)
	case "check":
		return check(ctx, cfg, client, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func login(ctx context.Context, client *app.Client, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", os.Getenv("USER"), "account username")
	password := fs.String("password", "", "account password (read from stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *password == "" {
		fmt.Fprintf(os.Stderr, "password for %s: ", *username)
		pw, err := readLine(os.Stdin)
		if err != nil {
			return err
		}
		*password = pw
	}

	p, err := client.Manager.Login(ctx, session.Credentials{Username: *username, Password: *password})
	if err != nil {
		return err
	}

	name := p.Name
	if name == "" {
		name = p.Username
	}
	fmt.Printf("signed in as %s (%s)\n", name, p.Role)
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func status(ctx context.Context, client *app.Client) error {
	st := client.Manager.Monitor().Check(ctx)
	printStatus(st)

	if p, ok := client.Manager.Profile(ctx); ok {
		fmt.Printf("user:      %s (%s, %s)\n", p.Username, p.Role, p.Status)
	}

	h, err := client.SDK.GetLiveness(ctx)
	if err != nil {
		fmt.Printf("auth:      unreachable (%v)\n", err)
		return nil
	}
	fmt.Printf("auth:      %s %s\n", h.Status, h.Version)
	return nil
}

func printStatus(st monitor.Status) {
	switch {
	case !st.HasToken:
		fmt.Println("session:   none")
	case !st.IsValid:
		fmt.Printf("session:   expired at %s\n", st.Expiry().Format(time.RFC3339))
	default:
		state := "valid"
		if st.IsExpiringSoon {
			state = "expiring soon"
		}
		fmt.Printf("session:   %s, %s left (expires %s)\n",
			state, st.TimeUntilExpiry.Truncate(time.Second), st.Expiry().Format(time.RFC3339))
	}
}

// watch keeps the session fresh until interrupted, printing each change.
func watch(ctx context.Context, client *app.Client) error {
	mgr := client.Manager

	ended := make(chan struct{}, 1)
	cancel := mgr.Monitor().Subscribe(func(st monitor.Status) {
		fmt.Printf("%s  ", time.Now().Format(time.TimeOnly))
		printStatus(st)
		if !st.HasToken {
			select {
			case ended <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	mgr.Start(ctx)
	defer mgr.Close()

	select {
	case <-ctx.Done():
		return nil
	case <-ended:
		return errors.New("session ended")
	}
}

func check(ctx context.Context, cfg app.Config, client *app.Client, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	preset := fs.String("require", "active", "requirement preset: admin, active or public")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("check needs exactly one path")
	}

	var req guard.Requirements
	switch *preset {
	case "admin":
		req = guard.AdminOnly()
	case "active":
		req = guard.ActiveUser()
	case "public":
		req = guard.Public()
	default:
		return fmt.Errorf("unknown preset %q", *preset)
	}

	nav := guard.NavigatorFunc(func(path string) error {
		fmt.Fprintf(os.Stderr, "redirect -> %s\n", path)
		return nil
	})
	g := guard.New(cfg.Requirements(req), nav, cfg.SessionConfig().Guard)
	d := g.Evaluate(session.GuardSession(ctx, client.Manager.Store(), true), fs.Arg(0))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
