// Package toposort orders items so that every dependency precedes its dependents.
package toposort

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycle is matched by every CycleError.
var ErrCycle = errors.New("dependency cycle")

// CycleError reports a dependency cycle. Path starts and ends with the same key.
type CycleError[K comparable] struct {
	Path []K
}

// Error implements the error interface.
func (e *CycleError[K]) Error() string {
	parts := make([]string, len(e.Path))
	for i, k := range e.Path {
		parts[i] = fmt.Sprint(k)
	}
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(parts, " -> "))
}

// Is makes errors.Is(err, ErrCycle) succeed.
func (e *CycleError[K]) Is(target error) bool {
	return target == ErrCycle
}

type mark uint8

const (
	unvisited mark = iota
	visiting
	done
)

// Sort returns items in dependency order using depth-first post-order
// insertion. Roots are visited in input order and dependencies in the order
// deps returns them, so equal inputs give equal outputs. Items are identified
// by key; the first instance seen for a key is the one emitted. Dependencies
// missing from items are still emitted ahead of their dependents.
func Sort[T any, K comparable](items []T, deps func(T) []T, key func(T) K) ([]T, error) {
	marks := make(map[K]mark, len(items))
	sorted := make([]T, 0, len(items))
	var stack []K

	var visit func(item T) error
	visit = func(item T) error {
		k := key(item)
		switch marks[k] {
		case done:
			return nil
		case visiting:
			return &CycleError[K]{Path: cyclePath(stack, k)}
		}

		marks[k] = visiting
		stack = append(stack, k)
		if deps != nil {
			for _, d := range deps(item) {
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		marks[k] = done
		sorted = append(sorted, item)
		return nil
	}

	for _, item := range items {
		if err := visit(item); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// cyclePath returns the part of stack that closes on k.
func cyclePath[K comparable](stack []K, k K) []K {
	for i, s := range stack {
		if s == k {
			path := append([]K(nil), stack[i:]...)
			return append(path, k)
		}
	}
	return []K{k, k}
}
