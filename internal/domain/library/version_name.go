package library

import (
	"path"
	"strings"
)

const (
	VersionNameVariantSet = "Variant Set"
	VersionNameLOD0       = "LOD0"
	VersionNameLOD1       = "LOD1"
	VersionNameLOD2       = "LOD2"

	// DefaultVersion is reported for assets that have no commits yet.
	DefaultVersion = "01.00.00"

	usdaExt = ".usda"
)

var lodSuffixes = map[string]string{
	"_LOD0": VersionNameLOD0,
	"_LOD1": VersionNameLOD1,
	"_LOD2": VersionNameLOD2,
}

// ClassifyVersionName maps a store key to its logical version name. A ".usda"
// key is a Variant Set unless its stem ends in _LOD0/_LOD1/_LOD2. Any other key
// gets fallback, or its base file name when fallback is empty.
func ClassifyVersionName(storeKey, fallback string) string {
	if strings.HasSuffix(storeKey, usdaExt) {
		stem := strings.TrimSuffix(storeKey, usdaExt)
		if len(stem) >= 5 {
			if name, ok := lodSuffixes[stem[len(stem)-5:]]; ok {
				return name
			}
		}
		return VersionNameVariantSet
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback
	}
	return path.Base(storeKey)
}

// DefaultThumbnailKey is the store key used when an asset is registered
// without an explicit thumbnail.
func DefaultThumbnailKey(assetName string) string {
	return assetName + "/thumbnail.png"
}

// AssetPrefix is the store prefix holding every object of an asset.
func AssetPrefix(assetName string) string {
	return assetName + "/"
}
