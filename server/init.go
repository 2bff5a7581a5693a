package server

import (
	"errors"
	"fmt"
	"os"

	"github.com/n9te9/go-graphql-federation-planner/gateway"
)

var ErrConfigExists = errors.New("config file already exists")

// Init writes the sample configuration to path. An existing file is left untouched.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := os.WriteFile(path, []byte(gateway.SampleOption), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
