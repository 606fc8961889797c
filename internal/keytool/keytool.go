// Package keytool implements the operator CLI for custodial key material:
// generating signing identities and checking that stored key blobs open
// under a master secret.
package keytool

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/filex"
	"github.com/dmitrijs2005/walletkeeper/internal/keyvault"
)

// ErrUsage is returned for unknown commands and bad flags.
var ErrUsage = errors.New("usage error")

const usage = `usage: keytool <command> [flags]

commands:
  keygen        generate an ed25519 key pair (fee payer, mint authority)
  verify-blob   check that an encrypted key blob opens under a master secret
  help          show this message
`

type App struct {
	in  *bufio.Reader
	out io.Writer
	// fd is the terminal read by secret prompts.
	fd int
}

func NewApp(in io.Reader, out io.Writer, fd int) *App {
	return &App{in: bufio.NewReader(in), out: out, fd: fd}
}

// Run executes one command.
func (a *App) Run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "keygen":
		return a.keygen(rest)
	case "verify-blob":
		return a.verifyBlob(rest)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprintf(a.out, "unknown command %q\n\n%s", cmd, usage)
		return ErrUsage
	}
}

func (a *App) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

// keygen prints a new address. The private key goes to a 0600 file when -out
// is set, otherwise to the output.
func (a *App) keygen(args []string) error {
	fs := a.flagSet("keygen")
	outDir := fs.String("out", "", "directory to write <name>.key into")
	name := fs.String("name", "signer", "key file name without extension")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	address, privateKey, err := keyvault.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(privateKey)

	portable := keyvault.ExportPortable(privateKey)

	fmt.Fprintf(a.out, "address: %s\n", address)

	if *outDir == "" {
		fmt.Fprintf(a.out, "private key: %s\n", portable)
		return nil
	}

	path := filepath.Join(*outDir, *name+".key")
	if err := filex.WriteSecretFile(path, []byte(portable+"\n")); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "private key written to %s\n", path)
	return nil
}

// verifyBlob opens a sealed key with the typed master secret and prints the
// address it belongs to. With -address it also checks that they match.
func (a *App) verifyBlob(args []string) error {
	fs := a.flagSet("verify-blob")
	blob := fs.String("blob", "", "encrypted key blob (prompted when empty)")
	want := fs.String("address", "", "expected wallet address")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if *blob == "" {
		b, err := getSimpleText(a.in, "Encrypted key blob", a.out)
		if err != nil {
			return err
		}
		*blob = b
	}

	secret, err := getSecret(a.out, a.fd, "Master secret")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	vault, err := keyvault.NewVault(string(secret))
	if err != nil {
		return err
	}
	defer vault.Wipe()

	raw, err := vault.Open(*blob)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(raw)

	address, err := keyvault.AddressOf(raw)
	if err != nil {
		return err
	}

	if *want != "" && *want != address {
		return fmt.Errorf("%w: blob belongs to %s, expected %s", common.ErrIntegrity, address, *want)
	}

	fmt.Fprintf(a.out, "ok: blob opens to %s\n", address)
	return nil
}
