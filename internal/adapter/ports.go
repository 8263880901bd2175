package adapter

import (
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// usbSerialChips are the VID-less description fragments of the USB-serial
// bridges ELM327 clones ship with.
var usbSerialChips = []string{"elm", "ch340", "pl2303", "ftdi", "cp210", "silicon labs"}

// FindPorts enumerates serial ports and ranks the ones that plausibly carry
// an ELM327, best candidate first.
func FindPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	type candidate struct {
		score int
		name  string
	}
	var ranked []candidate

	for _, p := range ports {
		dev := strings.ToLower(p.Name)
		desc := strings.ToLower(p.Product)

		if strings.Contains(dev, "bluetooth") || strings.Contains(dev, "debug-console") {
			continue
		}

		score := 0
		if p.IsUSB {
			score += 2
		}
		for _, chip := range usbSerialChips {
			if strings.Contains(desc, chip) {
				score += 3
				break
			}
		}
		if strings.Contains(dev, "usbserial") || strings.Contains(dev, "wchusbserial") {
			score += 2
		}
		if score > 0 {
			ranked = append(ranked, candidate{score: score, name: p.Name})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]string, len(ranked))
	for i, c := range ranked {
		out[i] = c.name
	}
	return out, nil
}
