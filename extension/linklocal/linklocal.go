// Package linklocal derives deterministic 169.254.0.0/16 link-local address
// pairs for tap devices, so a caller wiring up guest networking never has to
// hand-pick IPs that might collide across jails. It has no dependency on
// vmm.Process or executor state: it is a pure address-math helper, consumed
// optionally by whatever sets up a jail's network namespace before Invoke.
package linklocal

import (
	"fmt"
	"net"
)

const (
	octet1 = 169
	octet2 = 254
)

// Subnet is one /n (17 <= n <= 30) slice of 169.254.0.0/16, identified by
// its index among same-length slices. Grounded on
// original_source/src/ext/link_local.rs's LinkLocalSubnet: the same
// subnet-index/network-length addressing scheme, translated from checked
// Rust arithmetic to Go with explicit bounds checks in place of a
// const-evaluated Result.
type Subnet struct {
	subnetIndex uint16
	networkLen  uint8
	ipAmount    uint32
}

// New constructs a Subnet. networkLen must be between 17 and 30 inclusive
// (anything wider collides with a neighboring slice; anything narrower than
// /30 stops being a sane point-to-point host/guest pair). subnetIndex must
// address a slice that actually fits inside 169.254.0.0/16 at that length.
func New(subnetIndex uint16, networkLen uint8) (Subnet, error) {
	if err := validate(networkLen, subnetIndex); err != nil {
		return Subnet{}, err
	}
	return Subnet{
		subnetIndex: subnetIndex,
		networkLen:  networkLen,
		ipAmount:    ipAmount(networkLen),
	}, nil
}

// FromJailIndex is the convenience constructor actually used to wire a
// jail's networking: a monotonically increasing per-jail index maps onto a
// fixed-width /30 slice, giving each jail its own host/guest pair with no
// coordination beyond "don't reuse an index while its jail is alive."
func FromJailIndex(jailIndex uint32) (Subnet, error) {
	return New(uint16(jailIndex), 30)
}

func ipAmount(networkLen uint8) uint32 {
	return 1 << (32 - uint32(networkLen))
}

func validate(networkLen uint8, subnetIndex uint16) error {
	if networkLen > 30 || networkLen < 17 {
		return fmt.Errorf("linklocal: network length %d does not fit a /17..=/30 link-local slice", networkLen)
	}
	maxSubnets := uint32(65536) / ipAmount(networkLen)
	if uint32(subnetIndex) >= maxSubnets {
		return fmt.Errorf("linklocal: subnet index %d does not fit within %d available /%d slices", subnetIndex, maxSubnets, networkLen)
	}
	return nil
}

// NetworkLength returns the slice's prefix length.
func (s Subnet) NetworkLength() uint8 { return s.networkLen }

// IPAmount returns the total number of addresses in the slice, including
// the network and broadcast addresses.
func (s Subnet) IPAmount() uint32 { return s.ipAmount }

// HostIPAmount returns the number of usable host addresses, excluding the
// network and broadcast addresses.
func (s Subnet) HostIPAmount() uint32 { return s.ipAmount - 2 }

// IP returns the ipIndex'th address in the slice (0-based, includes network
// and broadcast addresses at the ends).
func (s Subnet) IP(ipIndex uint32) (net.IP, error) {
	if ipIndex >= s.ipAmount {
		return nil, fmt.Errorf("linklocal: ip index %d does not fit a /%d slice of %d addresses", ipIndex, s.networkLen, s.ipAmount)
	}
	return s.addr(s.ipAmount*uint32(s.subnetIndex) + ipIndex)
}

// HostIP returns the ipIndex'th usable host address (0-based, skipping the
// network address at offset 0).
func (s Subnet) HostIP(ipIndex uint32) (net.IP, error) {
	if ipIndex >= s.HostIPAmount() {
		return nil, fmt.Errorf("linklocal: host ip index %d does not fit a /%d slice of %d host addresses", ipIndex, s.networkLen, s.HostIPAmount())
	}
	return s.addr(s.ipAmount*uint32(s.subnetIndex) + ipIndex + 1)
}

func (s Subnet) addr(x uint32) (net.IP, error) {
	if x/256 > 255 || x%256 > 255 {
		return nil, fmt.Errorf("linklocal: address offset %d overflows a /16 link-local range", x)
	}
	return net.IPv4(octet1, octet2, byte(x/256), byte(x%256)), nil
}

// HostGuestPair is the host-side and guest-side endpoint of one tap device,
// carved out of a /30 Subnet: offset 0 is the network address (unused),
// offset 1 is the host tap address, offset 2 is the guest address, offset 3
// is the broadcast address (unused).
type HostGuestPair struct {
	Host  net.IP
	Guest net.IP
	Mask  uint8
}

// Pair derives the host/guest address pair for a /30 Subnet. It returns an
// error for any other prefix length, since a point-to-point tap pairing
// only makes sense with exactly two usable addresses.
func Pair(s Subnet) (HostGuestPair, error) {
	if s.networkLen != 30 {
		return HostGuestPair{}, fmt.Errorf("linklocal: host/guest pairing requires a /30 slice, got /%d", s.networkLen)
	}
	host, err := s.HostIP(0)
	if err != nil {
		return HostGuestPair{}, err
	}
	guest, err := s.HostIP(1)
	if err != nil {
		return HostGuestPair{}, err
	}
	return HostGuestPair{Host: host, Guest: guest, Mask: s.networkLen}, nil
}
