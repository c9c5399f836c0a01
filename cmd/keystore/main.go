package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/stellar/go/keypair"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/auth"
	"carbon-x/marketplace/marketplace-backend/internal/wallet/keystore"
)

const usage = `carbonx-keystore

Manage the encrypted signing key used by the keystore wallet, and the
operator password hash for the API.

Usage:
  keystore create <path> [--seed=<seed>]
  keystore show <path>
  keystore verify <path>
  keystore hash-password

Options:
  -h --help      Show this screen.
  --version      Show version.
  --seed=<seed>  Import an existing secret seed (S...) instead of generating one.

Passwords are read from WALLET_KEYSTORE_PASSWORD (or ADMIN_PASSWORD for
hash-password) and otherwise from the first line of stdin.
`

type Opts struct {
	Create       bool
	Show         bool
	Verify       bool
	HashPassword bool `docopt:"hash-password"`
	Path         string
	Seed         string `docopt:"--seed"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	parser := &docopt.Parser{HelpHandler: docopt.PrintHelpOnly, OptionsFirst: false}
	o, err := parser.ParseArgs(usage, args, "0.1")
	if err != nil {
		return 64
	}
	var opts Opts
	if err := o.Bind(&opts); err != nil {
		logger.Error("Invalid arguments", zap.Error(err))
		return 64
	}

	input := bufio.NewReader(stdin)
	switch {
	case opts.Create:
		err = create(opts, password(input, "WALLET_KEYSTORE_PASSWORD"), stdout)
	case opts.Show:
		err = show(opts.Path, stdout)
	case opts.Verify:
		err = verify(opts.Path, password(input, "WALLET_KEYSTORE_PASSWORD"), stdout)
	case opts.HashPassword:
		err = hashPassword(password(input, "ADMIN_PASSWORD"), stdout)
	}
	if err != nil {
		logger.Error("Command failed", zap.Error(err))
		return 1
	}
	return 0
}

func password(r *bufio.Reader, env string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	line, _ := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func create(opts Opts, pw string, out io.Writer) error {
	if _, err := os.Stat(opts.Path); err == nil {
		return fmt.Errorf("%s already exists", opts.Path)
	}

	seed := opts.Seed
	if seed == "" {
		kp, err := keypair.Random()
		if err != nil {
			return fmt.Errorf("generate keypair: %w", err)
		}
		seed = kp.Seed()
	}

	f, err := keystore.Create(opts.Path, seed, pw)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created %s for %s\n", opts.Path, f.Address)
	return nil
}

func show(path string, out io.Writer) error {
	f, err := keystore.Read(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "address:  %s\ncreated:  %s\nversion:  %d\n", f.Address, f.CreatedAt.Format("2006-01-02 15:04:05"), f.Version)
	return nil
}

func verify(path, pw string, out io.Writer) error {
	ks, err := keystore.Open(path, pw)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ok %s\n", ks.Address())
	return nil
}

func hashPassword(pw string, out io.Writer) error {
	hash, err := auth.HashPassword(pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}
