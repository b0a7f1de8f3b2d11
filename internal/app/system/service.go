package system

import "context"

// Service is a component with background work, such as the automation
// scheduler or a rate limiter sweep. Start must not block. Stop waits for
// in-flight work or for ctx to expire.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
