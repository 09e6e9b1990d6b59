package commands

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/wolfeidau/hakbot/internal/accesskey"
	"github.com/wolfeidau/hakbot/internal/auth"
)

type KeygenCmd struct {
	Kind string `help:"what to generate (access-key or jwt-secret)" default:"access-key" enum:"access-key,jwt-secret"`
}

func (k *KeygenCmd) Run(globals *Globals) error {
	return k.write(os.Stdout)
}

func (k *KeygenCmd) write(w io.Writer) error {
	switch k.Kind {
	case "jwt-secret":
		buf := make([]byte, auth.MinSecretLength)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w, base64.RawURLEncoding.EncodeToString(buf))
		return err
	default:
		value, err := accesskey.GenerateValue()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, value)
		return err
	}
}
