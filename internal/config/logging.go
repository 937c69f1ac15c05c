package config

import (
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

// ConfigureLogging applies LOG_LEVEL. A bare level such as "DEBUG" sets the
// root logger; anything else is passed to loggo as a full specification,
// e.g. "<root>=INFO;votexport.voteapi=TRACE".
func ConfigureLogging() error {
	spec := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if spec == "" {
		spec = "INFO"
	}
	if !strings.Contains(spec, "=") {
		spec = "<root>=" + strings.ToUpper(spec)
	}
	if err := loggo.ConfigureLoggers(spec); err != nil {
		return errors.Annotatef(err, "LOG_LEVEL %q", spec)
	}
	return nil
}
