package peer

import (
	"net/netip"

	"avaneesh/trel-go/pkg/internal/logger"
	"avaneesh/trel-go/pkg/mac"
)

// Static is a peer entry known ahead of time
type Static struct {
	ExtAddress mac.ExtAddress `json:"ext_address"`
	Address    string         `json:"address"`
}

// StaticDiscoverer fills a Table from a fixed list of peers
// It stands in for DNS-SD based discovery
type StaticDiscoverer struct {
	table    *Table
	statics  []Static
	localExt func() mac.ExtAddress
	logger   logger.Logger

	// Announce is invoked with the new local extended address after a change
	Announce func(ext mac.ExtAddress)
}

// NewStaticDiscoverer creates a discoverer for the given peers
func NewStaticDiscoverer(table *Table, statics []Static, localExt func() mac.ExtAddress, log logger.Logger) *StaticDiscoverer {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &StaticDiscoverer{
		table:    table,
		statics:  statics,
		localExt: localExt,
		logger:   log,
	}
}

// Start adds every configured peer to the table
// Entries with an unparsable address are skipped and counted
func (d *StaticDiscoverer) Start() (added int) {
	local := d.localExt()

	for _, s := range d.statics {
		if s.ExtAddress == local {
			continue
		}
		addr, err := netip.ParseAddrPort(s.Address)
		if err != nil {
			d.logger.Warn("Discoverer: skipping peer %s: %v", s.ExtAddress, err)
			continue
		}
		if _, err := d.table.Add(s.ExtAddress, addr); err != nil {
			d.logger.Warn("Discoverer: %v", err)
			continue
		}
		added++
	}

	d.logger.Info("Discoverer: %d static peers added", added)
	return added
}

// HandleExtAddressChange drops any peer entry that now collides with the
// local address and re-announces the local device
func (d *StaticDiscoverer) HandleExtAddressChange() {
	local := d.localExt()

	if d.table.FindPeer(local) != nil {
		d.table.Remove(local)
		d.logger.Warn("Discoverer: removed peer entry matching local address %s", local)
	}

	d.logger.Info("Discoverer: local extended address is now %s", local)
	if d.Announce != nil {
		d.Announce(local)
	}
}
