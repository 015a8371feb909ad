package claimingmode

import (
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
)

// ZeroconfAdvertiser publishes the device on the local network via
// DNS-SD. The claiming TXT attribute flips while the window is open so
// the companion application can find devices waiting for a claim.
type ZeroconfAdvertiser struct {
	instance string
	service  string
	domain   string
	port     int
	logger   *logger.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewZeroconfAdvertiser creates an advertiser for the given device
// instance (the MQTT client identifier) and local management port.
func NewZeroconfAdvertiser(instance, service, domain string, port int, log *logger.Logger) *ZeroconfAdvertiser {
	return &ZeroconfAdvertiser{
		instance: instance,
		service:  service,
		domain:   domain,
		port:     port,
		logger:   log.WithComponent("discovery"),
	}
}

// SetClaiming re-registers the service with the claiming attribute set
// accordingly. Registration failures are logged and otherwise ignored:
// discovery is a convenience, never a gate on the claim protocol.
func (a *ZeroconfAdvertiser) SetClaiming(claiming bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{
		"id=" + a.instance,
		"claiming=" + strconv.FormatBool(claiming),
	}
	server, err := zeroconf.Register(a.instance, a.service, a.domain, a.port, txt, nil)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to register mDNS service")
		return
	}
	a.server = server
	a.logger.Logger.Debug().Bool("claiming", claiming).Msg("mDNS service registered")
}

// Shutdown unregisters the service
func (a *ZeroconfAdvertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
