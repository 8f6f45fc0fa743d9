// Package medium maps abstract radio selectors onto the concrete transport
// mediums requested from the connectivity provider for each phase of a
// session (advertise, discover, connect, upgrade).
package medium

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Medium is a concrete radio transport. The numeric values match the
// provider's wire enum and must not be renumbered.
type Medium int

const (
	Unknown     Medium = 0
	Bluetooth   Medium = 2
	WifiHotspot Medium = 3
	BLE         Medium = 4
	WifiLAN     Medium = 5
	WifiAware   Medium = 6
	NFC         Medium = 7
	WifiDirect  Medium = 8
	WebRTC      Medium = 9
	BLEL2CAP    Medium = 10
	USB         Medium = 11
)

func (m Medium) String() string {
	switch m {
	case Bluetooth:
		return "bluetooth-classic"
	case WifiHotspot:
		return "wifi-hotspot"
	case BLE:
		return "low-energy"
	case WifiLAN:
		return "wifi-lan"
	case WifiAware:
		return "wifi-aware"
	case NFC:
		return "nfc"
	case WifiDirect:
		return "wifi-direct"
	case WebRTC:
		return "web-rtc"
	case BLEL2CAP:
		return "low-energy-l2cap"
	case USB:
		return "usb"
	default:
		return "unknown"
	}
}

// Set is an ordered, duplicate-free list of mediums. Order is the priority
// order offered to the provider. A nil Set leaves the provider unconstrained.
type Set []Medium

func (s Set) Contains(m Medium) bool {
	for _, v := range s {
		if v == m {
			return true
		}
	}
	return false
}

func (s Set) String() string {
	if s == nil {
		return "unconstrained"
	}
	names := make([]string, len(s))
	for i, m := range s {
		names[i] = m.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Selector is the test-facing medium restriction for one phase. The numeric
// values are part of the driver contract and must not be renumbered.
type Selector int

const (
	SelectorAuto             Selector = 0
	SelectorBluetoothOnly    Selector = 1
	SelectorBLEOnly          Selector = 2
	SelectorWifiLANOnly      Selector = 3
	SelectorWifiAwareOnly    Selector = 4
	SelectorUpgradeToWebRTC  Selector = 5
	SelectorUpgradeToHotspot Selector = 6
	SelectorUpgradeToDirect  Selector = 7
	SelectorBLEL2CAPOnly     Selector = 8
	SelectorUpgradeToAnyWifi Selector = 9
)

func (s Selector) String() string {
	switch s {
	case SelectorAuto:
		return "auto"
	case SelectorBluetoothOnly:
		return "bluetooth-only"
	case SelectorBLEOnly:
		return "low-energy-only"
	case SelectorWifiLANOnly:
		return "wifi-lan-only"
	case SelectorWifiAwareOnly:
		return "wifi-aware-only"
	case SelectorUpgradeToWebRTC:
		return "upgrade-to-webrtc"
	case SelectorUpgradeToHotspot:
		return "upgrade-to-hotspot"
	case SelectorUpgradeToDirect:
		return "upgrade-to-direct"
	case SelectorBLEL2CAPOnly:
		return "low-energy-l2cap-only"
	case SelectorUpgradeToAnyWifi:
		return "upgrade-to-any-wifi"
	default:
		return fmt.Sprintf("selector(%d)", int(s))
	}
}

// Phase identifies which medium set a selector is being resolved for.
type Phase string

const (
	PhaseAdvertise Phase = "advertise"
	PhaseDiscover  Phase = "discover"
	PhaseConnect   Phase = "connect"
	PhaseUpgrade   Phase = "upgrade"
)

// ErrUnknownSelector is the sentinel for selector values outside the contract.
var ErrUnknownSelector = errors.New("unknown medium selector")

// SelectorError reports an unrecognized selector and the phase it was
// supplied for. Use errors.Is with ErrUnknownSelector to match.
type SelectorError struct {
	Phase    Phase
	Selector Selector
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("%s phase: unknown medium selector %d", e.Phase, int(e.Selector))
}

func (e *SelectorError) Unwrap() error { return ErrUnknownSelector }

// ConnectionType is the disruption mode requested for a connection.
type ConnectionType int

const (
	ConnectionTypeUnset         ConnectionType = 0
	ConnectionTypeDisruptive    ConnectionType = 1
	ConnectionTypeNonDisruptive ConnectionType = 2
)

func (t ConnectionType) String() string {
	switch t {
	case ConnectionTypeDisruptive:
		return "disruptive"
	case ConnectionTypeNonDisruptive:
		return "non-disruptive"
	default:
		return "unset"
	}
}

// AdvertisingOptions is the resolved medium configuration for advertising.
type AdvertisingOptions struct {
	Mediums                    Set
	UpgradeMediums             Set
	AutoUpgradeBandwidth       bool
	EnforceTopologyConstraints bool
	LowPower                   bool
}

// DiscoveryOptions is the resolved medium configuration for discovery.
type DiscoveryOptions struct {
	Mediums Set

	// ForwardUnrecognizedDevices asks the provider to surface endpoints it
	// cannot attribute to the requested service.
	ForwardUnrecognizedDevices bool
	LowPower                   bool
}

// ConnectionOptions is the resolved medium configuration for an outgoing
// connection request.
type ConnectionOptions struct {
	Mediums           Set
	UpgradeMediums    Set
	Type              ConnectionType
	KeepAliveTimeout  time.Duration
	KeepAliveInterval time.Duration
}
