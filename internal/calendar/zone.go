package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownTimezone = errors.New("unknown_timezone")

// ZoneResolver resolves IANA zone names. The default zone is fixed when the
// resolver is built and is used for obligations without a billing timezone.
type ZoneResolver struct {
	defaultZone *time.Location
}

// NewZoneResolver builds a resolver whose default is defaultName. An empty
// name selects UTC.
func NewZoneResolver(defaultName string) (*ZoneResolver, error) {
	name := strings.TrimSpace(defaultName)
	if name == "" {
		return &ZoneResolver{defaultZone: time.UTC}, nil
	}
	loc, err := LoadZone(name)
	if err != nil {
		return nil, err
	}
	return &ZoneResolver{defaultZone: loc}, nil
}

// NewZoneResolverWithLocation is NewZoneResolver for an already loaded zone.
func NewZoneResolverWithLocation(loc *time.Location) *ZoneResolver {
	if loc == nil {
		loc = time.UTC
	}
	return &ZoneResolver{defaultZone: loc}
}

// Default returns the configured default zone.
func (r *ZoneResolver) Default() *time.Location {
	if r == nil || r.defaultZone == nil {
		return time.UTC
	}
	return r.defaultZone
}

// Resolve returns the named zone, or the default zone when name is empty.
func (r *ZoneResolver) Resolve(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return r.Default(), nil
	}
	return LoadZone(name)
}

// LoadZone loads an IANA zone, mapping lookup failures to ErrUnknownTimezone.
func LoadZone(name string) (*time.Location, error) {
	// time.LoadLocation accepts "Local", which would leak the host zone into billing.
	if strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimezone, name)
	}
	return loc, nil
}
