package mdns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff"
	"github.com/grandcat/zeroconf"

	"github.com/rjboer/iqalign/internal/logging"
)

const (
	// ServiceType is the DNS-SD type the web telemetry UI is announced under.
	ServiceType = "_http._tcp"
	domain      = "local."

	registerRetries = 5
)

var ErrInvalidAdvertisement = errors.New("mdns: invalid advertisement")

// Advertisement is a live mDNS registration. Call Shutdown to withdraw it.
type Advertisement struct {
	Instance string
	Port     int
	server   *zeroconf.Server
}

// Advertise announces the telemetry UI on the local network. Registration is
// retried with exponential backoff until it succeeds, the retries run out or
// ctx is canceled.
func Advertise(ctx context.Context, instance string, port int, txt []string, logger logging.Logger) (*Advertisement, error) {
	if logger == nil {
		logger = logging.Default()
	}
	instance = cleanInstance(instance)
	if instance == "" {
		return nil, fmt.Errorf("%w: empty instance name", ErrInvalidAdvertisement)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidAdvertisement, port)
	}
	logger = logger.With(logging.F("subsystem", "mdns"), logging.F("instance", instance))

	var server *zeroconf.Server
	attempt := 0
	op := func() error {
		attempt++
		s, err := zeroconf.Register(instance, ServiceType, domain, port, txt, nil)
		if err != nil {
			logger.Warn("mdns register failed", logging.F("attempt", attempt), logging.F("error", err))
			return err
		}
		server = s
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), registerRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("mdns register %q: %w", instance, err)
	}
	logger.Info("mdns advertising", logging.F("service", ServiceType), logging.F("port", port))
	return &Advertisement{Instance: instance, Port: port, server: server}, nil
}

// Shutdown withdraws the registration. It is safe to call on a nil advertisement.
func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

// cleanInstance removes Zeroconf escape sequences ("\ " => " ") and trims the name.
func cleanInstance(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `\ `, " "))
}
