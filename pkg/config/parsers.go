package config

import (
	"flag"
	"os"

	"gopkg.in/yaml.v3"
)

// unmarshalStrictish decodes YAML into cfg. Unknown fields are tolerated so
// older daemons keep starting against newer config files; type mismatches
// still fail.
func unmarshalStrictish(b []byte, cfg *Config) error {
	return yaml.Unmarshal(b, cfg)
}

// CommandFlags holds values parsed from the daemon command line. SetFlags
// records which flags were explicitly provided so they can win over
// file/env values.
type CommandFlags struct {
	ConfigPath string
	Room       string
	User       string
	CacheRoot  string
	SetFlags   map[string]bool
}

// ParseCommandFlags parses the roomsyncd command line. Flag parsing is
// centralized here so main stays small and tests can re-run it.
func ParseCommandFlags(args []string) (CommandFlags, error) {
	fs := flag.NewFlagSet("roomsyncd", flag.ContinueOnError)
	cf := CommandFlags{SetFlags: map[string]bool{}}
	fs.StringVar(&cf.ConfigPath, "config", "", "path to YAML config file")
	fs.StringVar(&cf.Room, "room", "", "room id to sync (defaults to the identity's last room)")
	fs.StringVar(&cf.User, "user", "", "authenticated user id")
	fs.StringVar(&cf.CacheRoot, "cache", "", "local cache root directory")
	if err := fs.Parse(args); err != nil {
		return cf, err
	}
	fs.Visit(func(f *flag.Flag) { cf.SetFlags[f.Name] = true })
	return cf, nil
}

// ResolveConfigPath picks the config path: an explicit flag wins, then the
// ROOMSYNC_CONFIG env var, then ./config.yaml if it exists.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if v := os.Getenv("ROOMSYNC_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}
