package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"kerjasama.id/logbook/logbook"
)

const LogbookCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Logbook kerja sama control.

Usage:
    logbookctl login --api_url=<api_url> --email=<email> [--password=<password>]
    logbookctl whoami --api_url=<api_url> --jwt=<jwt>
    logbookctl statuses --api_url=<api_url> --jwt=<jwt>
        [--page=<page>] [--search=<search>]
    logbookctl mitra --api_url=<api_url> --jwt=<jwt>
        [--page=<page>] [--search=<search>]
    logbookctl watch --realtime_url=<realtime_url> --jwt=<jwt>

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --api_url=<api_url>            Backend base url.
    --realtime_url=<realtime_url>  Realtime ws url.
    --email=<email>
    --password=<password>          Prompted when omitted.
    --jwt=<jwt>                    Your bearer token.
    --page=<page>
    --search=<search>`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], LogbookCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if whoami_, _ := opts.Bool("whoami"); whoami_ {
		whoami(opts)
	} else if statuses_, _ := opts.Bool("statuses"); statuses_ {
		statuses(opts)
	} else if mitra_, _ := opts.Bool("mitra"); mitra_ {
		mitra(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func newApi(opts docopt.Opts) *logbook.LogbookApi {
	apiUrl, _ := opts.String("--api_url")
	api := logbook.NewLogbookApi(apiUrl)
	if jwt, err := opts.String("--jwt"); err == nil {
		api.SetToken(jwt)
	}
	return api
}

func login(opts docopt.Opts) {
	email, _ := opts.String("--email")

	password, err := opts.String("--password")
	if err != nil || password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Fatalf("could not read password: %s", err)
		}
		password = string(passwordBytes)
	}

	api := newApi(opts)
	result, err := api.AuthLogin(context.Background(), &logbook.AuthLoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		Err.Fatalf("login error: %s", err)
	}

	Out.Printf("%s", result.Token)
}

func whoami(opts docopt.Opts) {
	api := newApi(opts)
	user, err := api.AuthSelf(context.Background())
	if err != nil {
		Err.Fatalf("whoami error: %s", err)
	}

	Out.Printf("%d %s <%s> %s", user.Id, user.Nama, user.Email, user.Role)

	jwt, _ := opts.String("--jwt")
	if claims, err := logbook.ParseTokenClaimsUnverified(jwt); err == nil && !claims.ExpiresAt.IsZero() {
		Out.Printf("token expires %s", claims.ExpiresAt)
	}
}

func statuses(opts docopt.Opts) {
	page, _ := opts.Int("--page")
	search, _ := opts.String("--search")

	api := newApi(opts)
	statusPage, err := api.GetStatuses(context.Background(), page, search, 0)
	if err != nil {
		Err.Fatalf("statuses error: %s", err)
	}

	for _, status := range statusPage.Items {
		Out.Printf("%d\t%s", status.Id, status.Nama)
	}
	Out.Printf("page %d/%d (%d total)", statusPage.CurrentPage, statusPage.LastPage, statusPage.Total)
}

func mitra(opts docopt.Opts) {
	page, _ := opts.Int("--page")
	search, _ := opts.String("--search")

	api := newApi(opts)
	mitraPage, err := api.GetMitra(context.Background(), page, search, 0)
	if err != nil {
		Err.Fatalf("mitra error: %s", err)
	}

	for _, m := range mitraPage.Items {
		Out.Printf("%d\t%s\t%s", m.Id, m.Nama, m.Negara)
	}
	Out.Printf("page %d/%d (%d total)", mitraPage.CurrentPage, mitraPage.LastPage, mitraPage.Total)
}

func watch(opts docopt.Opts) {
	realtimeUrl, _ := opts.String("--realtime_url")
	jwt, _ := opts.String("--jwt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := logbook.NewLogbookApi("")
	api.SetToken(jwt)
	cache := logbook.NewQueryCacheWithDefaults(ctx)
	defer cache.Close()

	realtime := logbook.NewRealtimeWithDefaults(ctx, realtimeUrl, api, cache)
	defer realtime.Close()

	unsub := realtime.AddEventCallback(func(event *logbook.RealtimeEvent) {
		if event.Key != nil {
			Out.Printf("%s %s", event.Type, event.Key)
		} else {
			Out.Printf("%s", event.Type)
		}
	})
	defer unsub()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
