// Command pdfsig signs PDF documents and verifies their signatures.
//
// Usage:
//
//	pdfsig sign --in input.pdf --out signed.pdf --p12 signer.p12 --password-env PDFSIG_SECRET
//	pdfsig verify --in signed.pdf [--trust-anchor ca.pem] [--json]
//	pdfsig version
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/sudhir-boottttt/MSpdf-sub001/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/pdfsig
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.New().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var ec *cli.ExitError
	if errors.As(err, &ec) {
		os.Exit(ec.ExitCode())
	}
	os.Exit(1)
}
