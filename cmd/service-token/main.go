// Command service-token prints a short-lived service credential signed with
// SERVICE_TOKEN_SECRET, for calling internal endpoints by hand.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/config"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	service := flag.String("service", "orders-api", "calling service name")
	ttl := flag.Duration("ttl", cfg.ServiceTokenTTL, "token lifetime")
	flag.Parse()

	if cfg.ServiceTokenSecret == "" {
		fmt.Fprintln(os.Stderr, "SERVICE_TOKEN_SECRET is not set")
		os.Exit(1)
	}
	tok, err := auth.Issue([]byte(cfg.ServiceTokenSecret), *service, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue token:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
