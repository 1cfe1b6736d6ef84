// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CachedProvider fetches sources lazily and keeps the first success for
// the life of the session.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent first calls share one fetch.
type CachedProvider struct {
	inner  Provider
	flight singleflight.Group

	mu      sync.RWMutex
	sources *Sources
}

// NewCachedProvider wraps inner.
func NewCachedProvider(inner Provider) *CachedProvider {
	return &CachedProvider{inner: inner}
}

// Sources returns the cached sources, fetching them on first use.
//
// Failures are not cached; the next call tries again.
func (p *CachedProvider) Sources(ctx context.Context) (*Sources, error) {
	p.mu.RLock()
	src := p.sources
	p.mu.RUnlock()
	if src != nil {
		return src, nil
	}

	v, err, _ := p.flight.Do("sources", func() (interface{}, error) {
		src, err := p.inner.Sources(ctx)
		if err != nil {
			return nil, err
		}
		if src == nil {
			return nil, ErrNoSources
		}
		p.mu.Lock()
		p.sources = src
		p.mu.Unlock()
		return src, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Sources), nil
}

// Reset drops the cached sources.
func (p *CachedProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = nil
}
