// Command optoken issues an operator JWT for the risk endpoints.
//
//	go run ./scripts/optoken -operator alice -secret $JWT_SECRET -ttl 8h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"execution-core/internal/api"
)

func main() {
	operator := flag.String("operator", "", "operator name recorded in the audit trail")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to JWT_SECRET)")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	if *operator == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: optoken -operator <name> [-secret <secret>] [-ttl <duration>]")
		os.Exit(2)
	}

	token, err := api.GenerateOperatorToken(*operator, *secret, time.Now().Add(*ttl))
	if err != nil {
		fmt.Fprintf(os.Stderr, "token generation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
