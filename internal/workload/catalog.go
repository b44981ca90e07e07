// Package workload synthesizes mushroom sighting payloads for load tests.
package workload

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Catalog holds the fixed value sets a Generator draws from.
type Catalog struct {
	// Images are base64-encoded image blobs
	Images []string `json:"images" yaml:"images"`

	// Names are mushroom species names
	Names []string `json:"names" yaml:"names"`

	// Locations are free-form sighting locations
	Locations []string `json:"locations" yaml:"locations"`
}

// 1x1 PNG pixels (red, green, blue).
var defaultImages = []string{
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8DwHwAFBQIAX8jx0gAAAABJRU5ErkJggg==",
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M/wHwAEBgIApD5fRAAAAABJRU5ErkJggg==",
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPj/HwADBwIAMCbHYQAAAABJRU5ErkJggg==",
}

var defaultNames = []string{
	"Chanterelle",
	"Morel",
	"Porcini",
	"Shiitake",
	"Oyster Mushroom",
	"Button Mushroom",
	"Portobello",
	"Enoki",
	"Maitake",
	"Lion's Mane",
	"King Oyster",
	"Cremini",
}

var defaultLocations = []string{
	"Forest Trail, Black Forest",
	"Oak Grove Park",
	"Mountain Path, Alps",
	"Birch Woods",
	"Pine Forest Reserve",
	"Redwood National Park",
	"Misty Valley Trail",
	"Maple Ridge Forest",
	"Cedar Creek Woods",
	"Fern Canyon",
}

// DefaultCatalog returns a copy of the built-in catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		Images:    append([]string(nil), defaultImages...),
		Names:     append([]string(nil), defaultNames...),
		Locations: append([]string(nil), defaultLocations...),
	}
}

// Validate returns a ConfigurationError for the first empty value set.
func (c Catalog) Validate() error {
	switch {
	case len(c.Images) == 0:
		return &ConfigurationError{Field: "images", Message: "catalog must not be empty"}
	case len(c.Names) == 0:
		return &ConfigurationError{Field: "names", Message: "catalog must not be empty"}
	case len(c.Locations) == 0:
		return &ConfigurationError{Field: "locations", Message: "catalog must not be empty"}
	}
	return nil
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// LoadImages reads every image file in dir and returns them base64-encoded,
// ordered by file name. Subdirectories and non-image files are skipped.
func LoadImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	images := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", name, err)
		}
		images = append(images, base64.StdEncoding.EncodeToString(data))
	}

	if len(images) == 0 {
		return nil, &ConfigurationError{Field: "images", Message: "no image files found in " + dir}
	}
	return images, nil
}
