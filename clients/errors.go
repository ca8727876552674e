package clients

import (
	"errors"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
)

// IsNotFound reports whether err means the client does not exist.
func IsNotFound(err error) bool { return errors.Is(err, automation.ErrClientNotFound) }
