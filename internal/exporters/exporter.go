package exporters

import (
	"context"
	"time"
	"votexport/internal/normalize"

	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("votexport.exporters")

// Exporter writes one complete projection of an export. A failed Write must
// leave the previous output in place.
type Exporter interface {
	Name() string
	Write(ctx context.Context, export *normalize.Export) error
}

// cellValue renders a record value for sinks without native time support.
func cellValue(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return v
}
