// Package gpu finds DRM cards in sysfs and reads GPU telemetry from sysfs,
// nvidia-smi and rocm-smi output.
package gpu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

const drmClassPath = "class/drm"

// Card describes one DRM card found in sysfs.
type Card struct {
	ID         string `json:"id"`
	PCI        string `json:"pci"`
	PCIID      string `json:"pci_id"`
	Name       string `json:"name"`
	Driver     string `json:"driver,omitempty"`
	RenderNode string `json:"render_node,omitempty"`
	Hwmon      bool   `json:"hwmon"`
}

// Discover enumerates the cards under root/class/drm, sorted by ID. A
// missing DRM class directory is not an error.
func Discover(root string, logger *slog.Logger) ([]Card, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	names, err := cardNames(sysRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("drm class path missing", "path", filepath.Join(root, drmClassPath))
			return nil, nil
		}
		return nil, err
	}

	cards := make([]Card, 0, len(names))
	for _, name := range names {
		deviceRoot, err := sysRoot.OpenRoot(filepath.Join(drmClassPath, name, "device"))
		if err != nil {
			logger.Warn("failed to open card device", "card", name, "err", err)
			continue
		}
		card := loadCard(name, deviceRoot)
		if err := deviceRoot.Close(); err != nil {
			logger.Debug("failed to close card device", "card", name, "err", err)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// cardNames lists the cardN entries of the DRM class directory. Connector
// entries such as card0-DP-1 are skipped.
func cardNames(sysRoot *os.Root) ([]string, error) {
	entries, err := fs.ReadDir(sysRoot.FS(), drmClassPath)
	if err != nil {
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "card") || !allDigits(name[len("card"):]) {
			continue
		}
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func loadCard(cardID string, deviceRoot *os.Root) Card {
	card := Card{ID: cardID}

	var subVendor, subDevice string
	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		text := string(data)
		card.PCI = parseKeyValue(text, "PCI_SLOT_NAME")
		card.PCIID = parseKeyValue(text, "PCI_ID")
		card.Driver = parseKeyValue(text, "DRIVER")
		if vendor, device, ok := strings.Cut(parseKeyValue(text, "PCI_SUBSYS_ID"), ":"); ok {
			subVendor, subDevice = vendor, device
		}
	}

	if card.PCIID == "" {
		vendor, errV := readTrim(deviceRoot, "vendor")
		device, errD := readTrim(deviceRoot, "device")
		if errV == nil && errD == nil {
			card.PCIID = strings.TrimPrefix(vendor, "0x") + ":" + strings.TrimPrefix(device, "0x")
		}
	}
	if subVendor == "" {
		subVendor, _ = readTrim(deviceRoot, "subsystem_vendor")
	}
	if subDevice == "" {
		subDevice, _ = readTrim(deviceRoot, "subsystem_device")
	}

	card.Name, _ = readTrim(deviceRoot, "product_name")
	vendorID, deviceID, _ := strings.Cut(card.PCIID, ":")
	if resolved := lookupName(vendorID, deviceID, subVendor, subDevice); preferResolvedName(card.Name, resolved) {
		card.Name = resolved
	}
	if card.Name == "" {
		card.Name = card.Driver
	}

	card.RenderNode = findRenderNode(deviceRoot)
	if entries, err := fs.ReadDir(deviceRoot.FS(), "hwmon"); err == nil && len(entries) > 0 {
		card.Hwmon = true
	}
	return card
}

func findRenderNode(deviceRoot *os.Root) string {
	entries, err := fs.ReadDir(deviceRoot.FS(), "drm")
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "renderD") {
			return filepath.Join("/dev/dri", entry.Name())
		}
	}
	return ""
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		if value, ok := strings.CutPrefix(scanner.Text(), prefix); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
