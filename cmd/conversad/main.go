package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rafaelmp/conversa/internal/daemon"
	"github.com/rafaelmp/conversa/internal/profile"
	"github.com/rafaelmp/conversa/internal/xmpp"
	"go.uber.org/fx"
)

// engineFactory binds the protocol engine. The runtime only depends on
// the xmpp contract; a build of conversad links an engine by assigning
// this from an engine-specific file.
var engineFactory xmpp.Factory

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if engineFactory == nil {
		fmt.Fprintln(os.Stderr, "error: this build carries no protocol engine")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, Factory: engineFactory}),
	)

	app.Run()
}
