package device

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// Resolver turns an interface name into the device id and pairing class
// recorded at registration. The manager takes one so tests can substitute a
// fixed mapping for the kernel link table.
type Resolver interface {
	Resolve(name string) (id uint32, paired bool, err error)
}

// NetlinkResolver resolves names against the host's link table. The device
// id is the kernel interface index.
type NetlinkResolver struct{}

func (NetlinkResolver) Resolve(name string) (uint32, bool, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, false, fmt.Errorf("failed to find link %q: %w", name, err)
	}
	paired := link.Type() == "veth" || Paired(name)
	return uint32(link.Attrs().Index), paired, nil
}
