package identity

import (
	"context"
	"errors"
)

// MultiSource merges several sources into one batch view. Later sources win
// on conflicting addresses; activity timestamps and hostnames are kept from
// whichever source provides them.
type MultiSource struct {
	Sources []Source
}

// NewMultiSource combines sources in priority order, lowest first.
func NewMultiSource(sources ...Source) *MultiSource {
	return &MultiSource{Sources: sources}
}

// Read merges all sources. Individual source failures are tolerated as long
// as at least one source succeeds; the combined read fails only when every
// source does.
func (m *MultiSource) Read(ctx context.Context) ([]Record, error) {
	merged := make(map[string]Record)
	var errs []error
	succeeded := false

	for _, src := range m.Sources {
		records, err := src.Read(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		succeeded = true
		for _, rec := range records {
			prev, ok := merged[rec.MAC]
			if ok {
				if rec.Hostname == "" {
					rec.Hostname = prev.Hostname
				}
				if rec.LastActive.Before(prev.LastActive) {
					rec.LastActive = prev.LastActive
				}
			}
			merged[rec.MAC] = rec
		}
	}

	if !succeeded && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	out := make([]Record, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	return out, nil
}
