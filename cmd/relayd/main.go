package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relaychat/relay/internal/auth"
	"github.com/relaychat/relay/internal/client"
	"github.com/relaychat/relay/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		client.Module(client.Params{
			SessionName: sessionName,
			Tokens: auth.Tokens{
				AccessToken:  os.Getenv("RELAY_ACCESS_TOKEN"),
				RefreshToken: os.Getenv("RELAY_REFRESH_TOKEN"),
			},
		}),
	)

	app.Run()
}
