// Command authsign produces the payment authorization signature an admin
// attaches to POST /company/pay: RSA-PSS/SHA-256 over the bearer credential,
// printed as hex.
//
// With -hash-password it instead prints a bcrypt hash of the message at
// AUTH_BCRYPT_COST, for seeding rows in the users table.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spec-kit/backoffice/internal/auth"
	"github.com/spec-kit/backoffice/internal/config"
	"github.com/spec-kit/backoffice/internal/keystore"
	"github.com/spec-kit/backoffice/internal/security"
)

func main() {
	var (
		keyPath = flag.String("key", os.Getenv("AUTHSIGN_KEY_PATH"), "PEM private key (PKCS#1 or PKCS#8)")
		message = flag.String("message", "", "Message to sign; read from stdin when empty")
		hashPwd = flag.Bool("hash-password", false, "Print a bcrypt hash of the message instead of signing it")
	)
	flag.Parse()

	if *hashPwd {
		msg, err := messageOrStdin(*message)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintln(os.Stderr, "load config:", err)
			os.Exit(1)
		}
		hash, err := auth.HashPassword(msg, cfg.Auth.BcryptCost)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash:", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if *keyPath == "" {
		fmt.Fprintln(os.Stderr, "-key is required")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*keyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read key:", err)
		os.Exit(1)
	}
	key, err := keystore.ParsePrivateKeyPEM(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "parse key:", err)
		os.Exit(1)
	}

	msg, err := messageOrStdin(*message)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sig, err := security.SignAuthorization(key, []byte(msg))
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Println(hex.EncodeToString(sig))
}

func messageOrStdin(flagValue string) (string, error) {
	msg := flagValue
	if msg == "" {
		var err error
		if msg, err = readMessage(os.Stdin); err != nil {
			return "", fmt.Errorf("read message: %w", err)
		}
	}
	if msg == "" {
		return "", fmt.Errorf("message is empty")
	}
	return msg, nil
}

// readMessage reads stdin with the trailing newline removed, so
// `echo $TOKEN | authsign -key k.pem` signs exactly the token.
func readMessage(r io.Reader) (string, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
