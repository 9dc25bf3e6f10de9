package instrument

import (
	"errors"
	"fmt"
	"strings"
)

// Address locates one instrument: the host of the network-to-bus gateway and the
// logical device name on that gateway, e.g. host "10.0.0.5" and device "gpib0,22".
type Address struct {
	Host   string
	Device string
}

// String returns "host/device".
func (a Address) String() string {
	return a.Host + "/" + a.Device
}

// BusAddress returns the part of the device name after the bus name, "22" for "gpib0,22".
// It returns the whole device name when there is no bus prefix.
func (a Address) BusAddress() string {
	if i := strings.LastIndexByte(a.Device, ','); i >= 0 {
		return a.Device[i+1:]
	}

	return a.Device
}

// ParseAddresses builds the ordered address list for instruments sharing one gateway.
//
// Each entry of addrs is either a bare bus address ("22"), which is prefixed by bus
// ("gpib0,22"), or a complete device name containing a comma or when bus is empty
// ("gpib1,5", "inst0"), which is used as-is. The order of addrs is preserved and
// duplicates are rejected.
func ParseAddresses(host string, bus string, addrs []string) ([]Address, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("instrument: empty host")
	}
	if len(addrs) == 0 {
		return nil, errors.New("instrument: no instrument addresses")
	}

	seen := make(map[string]struct{}, len(addrs))
	out := make([]Address, 0, len(addrs))
	for _, raw := range addrs {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, errors.New("instrument: empty instrument address")
		}
		if bus != "" && !strings.Contains(name, ",") {
			name = bus + "," + name
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("instrument: duplicate instrument address %q", name)
		}
		seen[name] = struct{}{}
		out = append(out, Address{Host: host, Device: name})
	}

	return out, nil
}
