package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wolfeidau/hakbot/internal/auth"
)

type TokenCmd struct {
	Subject   string        `help:"Directory username the token is issued for" required:""`
	TTL       time.Duration `help:"Token lifetime" default:"1h"`
	JWTSecret string        `help:"HMAC secret shared with the server" required:"" env:"HAKBOT_JWT_SECRET"`
}

func (t *TokenCmd) Run(globals *Globals) error {
	return t.write(os.Stdout)
}

func (t *TokenCmd) write(w io.Writer) error {
	if t.TTL <= 0 {
		return errors.New("token lifetime must be positive")
	}

	keys, err := auth.NewHMACKeyStore([]byte(t.JWTSecret))
	if err != nil {
		return err
	}

	token, err := keys.IssueToken(t.Subject, t.TTL)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, token)
	return err
}
