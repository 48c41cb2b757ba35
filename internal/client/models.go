package client

import "strings"

// DefaultModel is used when no model, or an unknown alias, is supplied.
const DefaultModel = "V3_5"

// CanonicalModels is the upstream model enum.
var CanonicalModels = []string{"V3_5", "V4", "V4_5", "V4_5PLUS", "V5"}

// legacyModels maps historical chirp identifiers onto the upstream enum.
var legacyModels = map[string]string{
	"chirp-v3-0":      "V3_5",
	"chirp-v3-5":      "V3_5",
	"chirp-v4":        "V4",
	"chirp-auk":       "V4_5",
	"chirp-v4-5":      "V4_5",
	"chirp-bluejay":   "V4_5PLUS",
	"chirp-v4-5-plus": "V4_5PLUS",
	"chirp-v4-5plus":  "V4_5PLUS",
	"chirp-crow":      "V5",
	"chirp-v5":        "V5",
}

// NormalizeModel returns the canonical upstream id for alias. Canonical ids
// pass through; unknown or empty aliases fall back to DefaultModel.
func NormalizeModel(alias string) string {
	for _, m := range CanonicalModels {
		if alias == m {
			return alias
		}
	}
	if m, ok := legacyModels[strings.ToLower(strings.TrimSpace(alias))]; ok {
		return m
	}
	return DefaultModel
}

// LegacyModelAliases returns a copy of the alias table.
func LegacyModelAliases() map[string]string {
	out := make(map[string]string, len(legacyModels))
	for k, v := range legacyModels {
		out[k] = v
	}
	return out
}
