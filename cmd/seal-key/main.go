package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"custody.backend/internal/config"
	"custody.backend/internal/infrastructure/blockchain"
	"custody.backend/pkg/crypto"
)

// sealKey prints the address and vault ciphertext of a custody key, for
// AGGREGATE_KEY_ENC and FEE_PAYER_KEY_ENC. With --generate a fresh key is
// created; otherwise the hex private key is read from in.
func sealKey(args []string, vaultKeyHex string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("seal-key", flag.ContinueOnError)
	generate := fs.Bool("generate", false, "generate a new key instead of reading one from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	vault, err := crypto.NewKeyVault(vaultKeyHex)
	if err != nil {
		return fmt.Errorf("KEY_ENCRYPTION_KEY: %w", err)
	}

	var key *blockchain.Key
	if *generate {
		key, err = blockchain.GenerateKey()
	} else {
		line, readErr := bufio.NewReader(in).ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return readErr
		}
		if strings.TrimSpace(line) == "" {
			return errors.New("expected a hex private key on stdin, or pass --generate")
		}
		key, err = blockchain.ParseKey([]byte(line))
	}
	if err != nil {
		return err
	}

	sealed, err := vault.Seal(key.Bytes())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "address=%s\n", key.Address())
	_, _ = fmt.Fprintf(out, "sealed=%s\n", sealed)
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()
	if err := sealKey(os.Args[1:], cfg.Security.KeyEncryptionKey, os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
