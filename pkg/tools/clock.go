package tools

import (
	"context"
	"time"

	"github.com/aretw0/recall/pkg/registry"
)

const GetDateTimeName = "get_date_time"

// DateTimeLayout renders as YYYY-MM-DD HH:MM:SS.
const DateTimeLayout = "2006-01-02 15:04:05"

// GetDateTime reports the current local date and time. A nil now uses time.Now.
func GetDateTime(now func() time.Time) registry.Tool {
	if now == nil {
		now = time.Now
	}
	return registry.NewFunc(GetDateTimeName,
		"Get the current date and time.",
		func(context.Context, struct{}) (string, error) {
			return now().Format(DateTimeLayout), nil
		})
}
