package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file into the process environment.
// Missing files are ignored and variables already set are left untouched.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
