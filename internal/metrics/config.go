package metrics

import (
	"regexp"

	"codeberg.org/mutker/hmsd/internal/errors"
)

const defaultNamespace = "hmsd"

var namespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Config struct {
	Enabled   bool
	Namespace string
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Namespace: defaultNamespace,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Enabled && !namespacePattern.MatchString(c.Namespace) {
		return errFactory.WithData(ErrInvalidNamespace, c.Namespace)
	}
	return nil
}
