package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pdutra/cardex/internal/auth"
	"github.com/pdutra/cardex/internal/config"
	"github.com/pdutra/cardex/internal/daemon"
	"github.com/pdutra/cardex/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	// Best effort: a .env next to the binary or cwd may carry the token.
	_ = godotenv.Load()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := profile.EnsureDir(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: prepare profile dir: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load %s: %v\n", profile.ConfigPath(), err)
		os.Exit(1)
	}

	sess, err := auth.SessionFromToken(os.Getenv("CARDEX_ACCESS_TOKEN"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: CARDEX_ACCESS_TOKEN: %v\n", err)
		os.Exit(1)
	}
	if sess.Expired(time.Now()) {
		fmt.Fprintln(os.Stderr, "error: access token is expired, sign in again")
		os.Exit(1)
	}

	fx.New(daemon.Module(profileName, cfg, sess)).Run()
}
