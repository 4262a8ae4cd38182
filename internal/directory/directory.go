package directory

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every failure to reach or decode a directory
var ErrUnavailable = errors.New("client directory unavailable")

// Directory lists the hosts known to the monitoring system
type Directory interface {
	ListHosts(ctx context.Context) ([]string, error)
}

// Static is a fixed host list
type Static []string

func (s Static) ListHosts(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// HostSet is an immutable set of host names fetched once per run.
// The zero value is an empty set.
type HostSet struct {
	order []string
	index map[string]struct{}
}

// NewHostSet dedupes hosts, drops empty names and keeps first-seen order
func NewHostSet(hosts []string) HostSet {
	s := HostSet{index: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		if h == "" {
			continue
		}
		if _, ok := s.index[h]; ok {
			continue
		}
		s.index[h] = struct{}{}
		s.order = append(s.order, h)
	}
	return s
}

// Fetch lists the hosts of d into a HostSet
func Fetch(ctx context.Context, d Directory) (HostSet, error) {
	hosts, err := d.ListHosts(ctx)
	if err != nil {
		return HostSet{}, err
	}
	return NewHostSet(hosts), nil
}

func (s HostSet) Contains(host string) bool {
	_, ok := s.index[host]
	return ok
}

func (s HostSet) Len() int {
	return len(s.order)
}

// Hosts returns a copy of the hosts in first-seen order
func (s HostSet) Hosts() []string {
	return append([]string(nil), s.order...)
}
