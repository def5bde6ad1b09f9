package netstats

import (
	"context"
	"time"
)

// Repository stores network interfaces and their traffic samples.
type Repository interface {
	UpsertInterface(ctx context.Context, iface *Interface) error
	ListInterfaces(ctx context.Context) ([]Interface, error)
	RecordSample(ctx context.Context, sample *Sample) error
	// ClearStats drops every sample recorded for the interface.
	ClearStats(ctx context.Context, iface Interface) error
	// TotalUsage sums rx+tx bytes of a subscriber's samples taken after since (all samples when since is nil).
	TotalUsage(ctx context.Context, subscriberID int64, since *time.Time) (int64, error)
}
