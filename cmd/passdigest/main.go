// Command passdigest prints the digest of a passcode together with the
// statement that provisions it. With -sqlite it seeds a local database
// directly.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/collapsinghierarchy/rewardgate/pkc/digest"
	"github.com/collapsinghierarchy/rewardgate/store/sqlite"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	algo := flag.String("algo", string(digest.SHA256), "digest algorithm (sha256|sha3-256)")
	passcode := flag.String("passcode", "", "passcode to digest (read from stdin when empty)")
	dbPath := flag.String("sqlite", "", "also insert the digest into this SQLite database")
	flag.Parse()

	text := *passcode
	if text == "" {
		var err error
		text, err = readLine(os.Stdin)
		if err != nil {
			log.Fatal().Err(err).Msg("read passcode")
		}
	}
	if strings.TrimSpace(text) == "" {
		log.Fatal().Msg("passcode is empty")
	}

	h, err := digest.New(digest.Algorithm(*algo))
	if err != nil {
		log.Fatal().Err(err).Msg("digest")
	}
	sum, err := h.Sum(text)
	if err != nil {
		log.Fatal().Err(err).Msg("digest")
	}

	fmt.Println(sum)
	fmt.Printf("INSERT INTO secrets (hash) VALUES ('%s');\n", sum)

	if *dbPath != "" {
		if err := seed(*dbPath, sum); err != nil {
			log.Fatal().Err(err).Str("path", *dbPath).Msg("seed sqlite")
		}
		log.Info().Str("path", *dbPath).Msg("secret stored")
	}
}

// readLine returns the first line of r without its line ending.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func seed(path, hash string) error {
	st, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return st.AddSecret(ctx, hash)
}
