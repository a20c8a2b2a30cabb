package docs

import "time"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
