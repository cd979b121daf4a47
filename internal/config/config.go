// Package config loads the optional TOML configuration file for the
// socksd example command, the way Iam54r1n4-Gordafarid's internal/config
// package loads its client/server TOML files with BurntSushi/toml.
package config

import "github.com/BurntSushi/toml"

// File is the on-disk shape of socksd's optional -config file. A CLI flag
// given a non-empty value (for -upnp, true) takes precedence over a value
// loaded here; an empty or false flag leaves the loaded value in place.
type File struct {
	Addr              string `toml:"addr"`
	Username          string `toml:"username"`
	Password          string `toml:"password"`
	Host              string `toml:"host"`
	UPnP              bool   `toml:"upnp"`
	BindAcceptTimeout int    `toml:"bindAcceptTimeoutSeconds"`
	LogLevel          string `toml:"logLevel"`
}

// Load decodes path into a File. A missing or empty path is not an
// error; it returns a zero-value File so callers can layer flags over
// it unconditionally.
func Load(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	_, err := toml.DecodeFile(path, &f)
	return f, err
}
