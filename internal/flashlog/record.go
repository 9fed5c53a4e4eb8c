package flashlog

import (
	"time"

	"github.com/google/uuid"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
)

// Record is one completed flash. CBOR encoding uses integer keys.
type Record struct {
	ID           string    `cbor:"1,keyasint"`
	Timestamp    time.Time `cbor:"2,keyasint"`
	Hardware     string    `cbor:"3,keyasint"`
	HwModel      int       `cbor:"4,keyasint"`
	Target       string    `cbor:"5,keyasint"`
	Architecture string    `cbor:"6,keyasint"`
	Firmware     string    `cbor:"7,keyasint"`
	CleanInstall bool      `cbor:"8,keyasint,omitempty"`
	Scheme       string    `cbor:"9,keyasint,omitempty"`
}

// NewRecord describes a flash of fw onto d that has just completed.
// Unknown hardware and firmware are recorded as "unknown".
func NewRecord(d *catalog.Device, fw *catalog.Firmware, cleanInstall bool, scheme string) Record {
	r := Record{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Hardware:     "unknown",
		Firmware:     "unknown",
		CleanInstall: cleanInstall,
		Scheme:       scheme,
	}
	if d != nil {
		if d.HwModelSlug != "" {
			r.Hardware = d.HwModelSlug
		}
		r.HwModel = d.HwModel
		r.Target = d.PlatformioTarget
		r.Architecture = d.Architecture
	}
	if fw != nil && fw.ID != "" {
		r.Firmware = fw.ID
	}
	if r.Scheme == "" {
		r.Scheme = "default"
	}
	return r
}
