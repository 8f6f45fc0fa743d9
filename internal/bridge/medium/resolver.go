package medium

import "time"

// ResolveAdvertising maps the advertise and upgrade selectors onto the
// medium sets offered to the provider when advertising starts.
//
// Upgrade-capable selectors advertise only over their low-energy bootstrap
// channel; the target upgrade medium is never part of the advertising set.
func ResolveAdvertising(advertise, upgrade Selector) (AdvertisingOptions, error) {
	opts := AdvertisingOptions{EnforceTopologyConstraints: true}

	switch advertise {
	case SelectorAuto:
		// Unconstrained, the provider chooses.
	case SelectorBluetoothOnly:
		opts.Mediums = Set{Bluetooth}
	case SelectorBLEOnly, SelectorBLEL2CAPOnly:
		opts.Mediums = Set{BLE}
	case SelectorWifiLANOnly:
		opts.Mediums = Set{WifiLAN}
	case SelectorWifiAwareOnly:
		opts.Mediums = Set{BLE, WifiAware}
	case SelectorUpgradeToWebRTC:
		opts.Mediums = Set{BLE, WebRTC}
	case SelectorUpgradeToHotspot:
		opts.Mediums = Set{BLE, WifiHotspot}
	case SelectorUpgradeToDirect:
		opts.Mediums = Set{BLE, WifiDirect}
	case SelectorUpgradeToAnyWifi:
		opts.Mediums = Set{BLE, WifiDirect, WifiHotspot, WifiLAN, WifiAware}
	default:
		return AdvertisingOptions{}, &SelectorError{Phase: PhaseAdvertise, Selector: advertise}
	}

	switch upgrade {
	case SelectorAuto:
		opts.AutoUpgradeBandwidth = true
	case SelectorBluetoothOnly:
		opts.UpgradeMediums = Set{Bluetooth}
	case SelectorBLEOnly, SelectorBLEL2CAPOnly:
		opts.LowPower = true
		opts.UpgradeMediums = Set{BLE}
	case SelectorWifiLANOnly:
		opts.AutoUpgradeBandwidth = true
		opts.UpgradeMediums = Set{WifiLAN}
	case SelectorWifiAwareOnly:
		opts.AutoUpgradeBandwidth = true
		opts.UpgradeMediums = Set{WifiAware, BLEL2CAP, Bluetooth, BLE}
	case SelectorUpgradeToWebRTC:
		opts.AutoUpgradeBandwidth = true
		opts.UpgradeMediums = Set{WebRTC, BLEL2CAP, Bluetooth, BLE}
	case SelectorUpgradeToHotspot:
		opts.AutoUpgradeBandwidth = true
		opts.UpgradeMediums = Set{WifiHotspot, BLEL2CAP, Bluetooth, BLE}
	case SelectorUpgradeToDirect:
		opts.AutoUpgradeBandwidth = true
		opts.UpgradeMediums = Set{WifiDirect, BLEL2CAP, Bluetooth, BLE}
	case SelectorUpgradeToAnyWifi:
		opts.AutoUpgradeBandwidth = true
		opts.UpgradeMediums = Set{WifiDirect, WifiAware, WifiHotspot, WifiLAN}
	default:
		return AdvertisingOptions{}, &SelectorError{Phase: PhaseUpgrade, Selector: upgrade}
	}

	return opts, nil
}

// ResolveDiscovery maps the discover selector onto the medium set scanned
// during discovery.
//
// Unlike every other phase, an unrecognized selector falls back to an
// unconstrained medium set instead of failing. Existing drivers depend on
// this asymmetry; do not "fix" it.
func ResolveDiscovery(discover Selector) DiscoveryOptions {
	var opts DiscoveryOptions

	switch discover {
	case SelectorAuto:
		// Unconstrained.
	case SelectorBluetoothOnly:
		opts.Mediums = Set{Bluetooth}
	case SelectorBLEOnly, SelectorBLEL2CAPOnly:
		opts.Mediums = Set{BLE}
	case SelectorWifiLANOnly:
		opts.Mediums = Set{WifiLAN}
	case SelectorWifiAwareOnly:
		opts.Mediums = Set{BLE, WifiAware}
	case SelectorUpgradeToWebRTC, SelectorUpgradeToHotspot, SelectorUpgradeToDirect:
		opts.Mediums = Set{BLE}
	case SelectorUpgradeToAnyWifi:
		opts.Mediums = Set{BLE, WifiLAN, WifiAware}
	default:
		return DiscoveryOptions{}
	}

	return opts
}

// ResolveConnection maps the connect and upgrade selectors onto the medium
// sets for an outgoing connection request.
//
// Every upgrade-capable selector lists the full low-energy fallback chain
// ahead of its target medium for the connect set. The upgrade set for
// any-wifi deliberately omits wifi-aware: aware is usable as a primary
// connect medium but is excluded from the final upgrade candidates.
func ResolveConnection(connect, upgrade Selector, connType ConnectionType, keepAliveTimeout, keepAliveInterval time.Duration) (ConnectionOptions, error) {
	opts := ConnectionOptions{
		KeepAliveTimeout:  keepAliveTimeout,
		KeepAliveInterval: keepAliveInterval,
	}

	switch connType {
	case ConnectionTypeDisruptive, ConnectionTypeNonDisruptive:
		opts.Type = connType
	default:
		opts.Type = ConnectionTypeUnset
	}

	switch connect {
	case SelectorAuto:
		// Unconstrained.
	case SelectorBluetoothOnly:
		opts.Mediums = Set{Bluetooth}
	case SelectorBLEOnly:
		opts.Mediums = Set{BLE}
	case SelectorBLEL2CAPOnly:
		opts.Mediums = Set{BLEL2CAP}
	case SelectorWifiLANOnly:
		opts.Mediums = Set{WifiLAN}
	case SelectorWifiAwareOnly:
		opts.Mediums = Set{Bluetooth, BLE, BLEL2CAP, WifiAware}
	case SelectorUpgradeToWebRTC:
		opts.Mediums = Set{Bluetooth, BLE, BLEL2CAP, WebRTC}
	case SelectorUpgradeToHotspot:
		opts.Mediums = Set{Bluetooth, BLE, BLEL2CAP, WifiHotspot}
	case SelectorUpgradeToDirect:
		opts.Mediums = Set{Bluetooth, BLE, BLEL2CAP, WifiDirect}
	case SelectorUpgradeToAnyWifi:
		opts.Mediums = Set{Bluetooth, BLE, BLEL2CAP, WifiDirect, WifiHotspot, WifiAware}
	default:
		return ConnectionOptions{}, &SelectorError{Phase: PhaseConnect, Selector: connect}
	}

	switch upgrade {
	case SelectorAuto:
		// Unconstrained, provider upgrades opportunistically.
	case SelectorBluetoothOnly:
		opts.UpgradeMediums = Set{Bluetooth, BLE}
	case SelectorBLEOnly, SelectorBLEL2CAPOnly:
		opts.UpgradeMediums = Set{BLEL2CAP}
	case SelectorWifiLANOnly:
		opts.UpgradeMediums = Set{WifiLAN}
	case SelectorWifiAwareOnly:
		opts.UpgradeMediums = Set{WifiAware, BLEL2CAP, Bluetooth, BLE}
	case SelectorUpgradeToWebRTC:
		opts.UpgradeMediums = Set{WebRTC, BLEL2CAP, Bluetooth, BLE}
	case SelectorUpgradeToHotspot:
		opts.UpgradeMediums = Set{WifiHotspot, BLEL2CAP, Bluetooth, BLE}
	case SelectorUpgradeToDirect:
		opts.UpgradeMediums = Set{WifiDirect, BLEL2CAP, Bluetooth, BLE}
	case SelectorUpgradeToAnyWifi:
		opts.UpgradeMediums = Set{WifiDirect, WifiHotspot, WifiLAN}
	default:
		return ConnectionOptions{}, &SelectorError{Phase: PhaseUpgrade, Selector: upgrade}
	}

	return opts, nil
}
