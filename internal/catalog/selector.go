package catalog

import (
	"sort"
	"strings"
)

// Active keeps actively supported devices. A non-empty vendorTag further
// restricts the list to co-branded devices carrying that tag.
func Active(devices []Device, vendorTag string) []Device {
	var out []Device
	for _, d := range devices {
		if !d.ActivelySupported {
			continue
		}
		if vendorTag != "" && !d.HasTag(vendorTag) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Filter keeps devices carrying tag or built for the architecture named by tag.
// An empty tag or "all" returns the input unchanged.
func Filter(devices []Device, tag string) []Device {
	if tag == "" || tag == "all" {
		return devices
	}
	var out []Device
	for _, d := range devices {
		if d.HasTag(tag) || d.Architecture == tag {
			out = append(out, d)
		}
	}
	return out
}

// Sorted orders devices for presentation: primary support first, then
// secondary, both by model id and image count, then everything else by
// model id. The input slice is not modified.
func Sorted(devices []Device) []Device {
	byLevel := func(level int) []Device {
		var out []Device
		for _, d := range devices {
			if d.Level() == level {
				out = append(out, d)
			}
		}
		return out
	}

	withImages := func(list []Device) {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].HwModel != list[j].HwModel {
				return list[i].HwModel < list[j].HwModel
			}
			return len(list[i].Images) < len(list[j].Images)
		})
	}

	primary := byLevel(SupportPrimary)
	withImages(primary)
	secondary := byLevel(SupportSecondary)
	withImages(secondary)
	community := byLevel(SupportCommunity)
	sort.SliceStable(community, func(i, j int) bool {
		return community[i].HwModel < community[j].HwModel
	})

	out := make([]Device, 0, len(devices))
	out = append(out, primary...)
	out = append(out, secondary...)
	return append(out, community...)
}

// Tags returns every distinct tag in catalog order.
func Tags(devices []Device) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range devices {
		for _, t := range d.Tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Architectures returns every distinct architecture in catalog order.
func Architectures(devices []Device) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range devices {
		if !seen[d.Architecture] {
			seen[d.Architecture] = true
			out = append(out, d.Architecture)
		}
	}
	return out
}

// Find looks a device up by slug or platformio target, ignoring case.
func Find(devices []Device, key string) (*Device, bool) {
	for i := range devices {
		d := &devices[i]
		if strings.EqualFold(d.HwModelSlug, key) || strings.EqualFold(d.PlatformioTarget, key) {
			return d, true
		}
	}
	return nil, false
}

// Boards shipping the S140 7.3 soft device need a newer bootloader path.
var softDevice73Slugs = map[string]bool{
	"WIO_WM1110":                true,
	"TRACKER_T1000_E":           true,
	"XIAO_NRF52_KIT":            true,
	"SEEED_SOLAR_NODE":          true,
	"SEEED_WIO_TRACKER_L1":      true,
	"SEEED_WIO_TRACKER_L1_EINK": true,
}

// IsSoftDevice73 reports whether the device ships soft device 7.3.
func IsSoftDevice73(d *Device) bool {
	return d != nil && softDevice73Slugs[d.HwModelSlug]
}

// DFUMinVersion returns the first firmware version able to enter DFU mode
// on request for the device's family.
func DFUMinVersion(d *Device) string {
	if d != nil && strings.HasPrefix(d.Architecture, "nrf52") {
		return "2.2.17"
	}
	return "2.2.18"
}
