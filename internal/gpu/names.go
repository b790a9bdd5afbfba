package gpu

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

var loadPCIDB = sync.OnceValue(func() *pcidb.PCIDB {
	db, err := pcidb.New()
	if err != nil {
		return nil
	}
	return db
})

// lookupName resolves a marketing name from the PCI ID database. The
// subsystem name wins when the board vendor registered one.
func lookupName(vendorID, deviceID, subVendorID, subDeviceID string) string {
	vendorID = normalizePCIID(vendorID)
	deviceID = normalizePCIID(deviceID)
	if vendorID == "" || deviceID == "" {
		return ""
	}

	db := loadPCIDB()
	if db == nil {
		return ""
	}
	product := db.Products[vendorID+deviceID]
	if product == nil {
		return ""
	}

	subVendorID = normalizePCIID(subVendorID)
	subDeviceID = normalizePCIID(subDeviceID)
	if subVendorID != "" && subDeviceID != "" {
		for _, sub := range product.Subsystems {
			if sub == nil || sub.Name == "" {
				continue
			}
			if strings.EqualFold(sub.VendorID, subVendorID) && strings.EqualFold(sub.ID, subDeviceID) {
				return sub.Name
			}
		}
	}
	return product.Name
}

func normalizePCIID(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "0x")
	if value == "" {
		return ""
	}
	if len(value) < 4 {
		value = strings.Repeat("0", 4-len(value)) + value
	}
	return value
}

// preferResolvedName reports whether the database name should replace the
// one sysfs reported.
func preferResolvedName(current, resolved string) bool {
	if resolved == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(current))
	switch {
	case lower == "", lower == "amdgpu", lower == "radeon", lower == "nouveau", lower == "i915", lower == "unknown":
		return true
	case strings.HasPrefix(lower, "pci device"), strings.HasPrefix(lower, "0x"):
		return true
	}
	return false
}
