package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Credential defaults.
const (
	DefaultAppID  = "1089"
	DefaultServer = "ws.derivws.com"
)

// Fallback chains, first non-empty key wins.
var (
	TokenKeys  = []string{"DERIV_TOKEN", "DERIV_API_TOKEN", "AUTH_TOKEN"}
	AppIDKeys  = []string{"DERIV_APP_ID", "APP_ID"}
	ServerKeys = []string{"DERIV_SERVER", "PREFERRED_SERVER"}
)

// ErrMissingToken is returned when no API token is configured.
var ErrMissingToken = errors.New("no API token configured")

// Credentials identify the account and endpoint.
type Credentials struct {
	Token  string
	AppID  string
	Server string
}

// LoadDotEnv loads the given .env files into the process environment.
// Variables already set win; missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ResolveCredentials picks credentials from the environment, falling back
// to the session file and then the defaults.
func (f *File) ResolveCredentials(lookup func(string) (string, bool)) (Credentials, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c := Credentials{
		Token:  firstOf(lookup, TokenKeys, f.Deriv.Token, ""),
		AppID:  firstOf(lookup, AppIDKeys, f.Deriv.AppID, DefaultAppID),
		Server: firstOf(lookup, ServerKeys, f.Deriv.Server, DefaultServer),
	}
	if c.Token == "" {
		return c, ErrMissingToken
	}
	return c, nil
}

func firstOf(lookup func(string) (string, bool), keys []string, fromFile, def string) string {
	for _, k := range keys {
		if v, ok := lookup(k); ok && v != "" {
			return v
		}
	}
	if fromFile != "" {
		return fromFile
	}
	return def
}
