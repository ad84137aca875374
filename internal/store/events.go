// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package store

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/tomtom215/thumbnailer/internal/cacheerr"
	"github.com/tomtom215/thumbnailer/internal/logging"
)

// EventMask selects which events a Handler is notified of. Masks combine
// with bitwise OR.
type EventMask uint8

const (
	EventPut EventMask = 1 << iota
	EventEvictLRU
	EventEvictTTL
	EventInvalidate

	eventAll = EventPut | EventEvictLRU | EventEvictTTL | EventInvalidate
)

// Event describes a single cache mutation delivered to a Handler.
type Event struct {
	Kind EventMask
	Key  []byte
	Size int64
}

// Handler is invoked synchronously, on the calling goroutine, for every
// event matching its registered mask (§4.3: "invoked synchronously").
// A Handler must not call back into the Store that delivered it; doing so
// deadlocks on the Store's single writer lock.
type Handler func(Event)

// SetHandler registers cb for every event kind present in mask. Handlers
// accumulate; there is no way to remove one once registered, matching the
// "installed for the cache's lifetime" contract in §4.3.
func (s *Store) SetHandler(mask EventMask, cb Handler) error {
	if mask == 0 {
		return fmt.Errorf("store: %w: event mask must be non-zero", cacheerr.ErrInvalidArgument)
	}
	if cb == nil {
		return fmt.Errorf("store: %w: handler must not be nil", cacheerr.ErrInvalidArgument)
	}
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, registeredHandler{mask: mask, cb: cb})
	return nil
}

// fireEvent invokes every matching synchronous handler, swallowing panics
// so a misbehaving handler cannot bring down the cache operation that
// triggered it, then best-effort publishes the same event on the
// decoupled watermill feed for async consumers.
func (s *Store) fireEvent(ev Event) {
	s.handlersMu.RLock()
	handlers := make([]registeredHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		if h.mask&ev.Kind == 0 {
			continue
		}
		s.invokeHandler(h.cb, ev)
	}

	s.publishEvent(ev)
}

func (s *Store) invokeHandler(cb Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithCache(s.path).Warn().Interface("panic", r).Msg("cache event handler panicked")
		}
	}()
	cb(ev)
}

func (s *Store) publishEvent(ev Event) {
	if s.pub == nil {
		return
	}
	msg := message.NewMessage(uuid.NewString(), eventPayload(ev))
	msg.Metadata.Set("kind", eventKindString(ev.Kind))
	if err := s.pub.Publish(eventsTopic, msg); err != nil {
		logging.WithCache(s.path).Debug().Err(err).Msg("event bus publish dropped")
	}
}

func eventPayload(ev Event) []byte {
	return []byte(fmt.Sprintf("%s %d", ev.Key, ev.Size))
}

func eventKindString(k EventMask) string {
	switch k {
	case EventPut:
		return "put"
	case EventEvictLRU:
		return "evict_lru"
	case EventEvictTTL:
		return "evict_ttl"
	case EventInvalidate:
		return "invalidate"
	default:
		return "unknown"
	}
}
