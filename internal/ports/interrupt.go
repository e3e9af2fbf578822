package ports

import "context"

// CriticalSectionPort runs fn so that it cannot be cut short by an
// interrupt. An interrupt received meanwhile is returned as an error after
// fn completes.
type CriticalSectionPort interface {
	Run(ctx context.Context, name string, fn func() error) error
}
