//go:build !linux

package identity

import "context"

// NeighborSource is only functional on linux; elsewhere it reads nothing so
// the resolver falls back to the lease file alone.
type NeighborSource struct{}

// NewNeighborSource creates a no-op neighbor source.
func NewNeighborSource() *NeighborSource {
	return &NeighborSource{}
}

// Read returns no records.
func (s *NeighborSource) Read(ctx context.Context) ([]Record, error) {
	return nil, nil
}
