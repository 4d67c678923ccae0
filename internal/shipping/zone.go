package shipping

import (
	"strconv"
	"strings"

	"checkout-service/internal/models"

	"go.uber.org/zap"
)

// ZoneConfig describes what counts as "in zone" for a vendor.
type ZoneConfig struct {
	States     []string
	PostalFrom int
	PostalTo   int
}

func (z ZoneConfig) hasPostalRange() bool {
	return z.PostalFrom > 0 && z.PostalTo >= z.PostalFrom
}

func (z ZoneConfig) hasStates() bool {
	for _, s := range z.States {
		if normalizeState(s) != "" {
			return true
		}
	}
	return false
}

// ZoneFor merges vendor-level zone settings over the service default. Each
// half (states, postal range) falls back independently.
func ZoneFor(settings *models.VendorSettings, fallback ZoneConfig) ZoneConfig {
	zone := fallback
	if settings == nil {
		return zone
	}
	if len(settings.ZoneStates) > 0 {
		zone.States = append([]string(nil), settings.ZoneStates...)
	}
	if settings.ZonePostalFrom > 0 && settings.ZonePostalTo >= settings.ZonePostalFrom {
		zone.PostalFrom = settings.ZonePostalFrom
		zone.PostalTo = settings.ZonePostalTo
	}
	return zone
}

// ResolveZone classifies addr against zone. The postal range is canonical
// whenever it is configured and the postal code parses; the state list is
// the fallback. When both are configured and disagree the postal result
// wins and the disagreement is logged.
func ResolveZone(addr *models.Address, zone ZoneConfig, logger *zap.Logger) string {
	if addr == nil {
		return models.ZoneOut
	}

	var (
		byStates   bool
		statesUsed = zone.hasStates()
	)
	if statesUsed {
		byStates = matchesState(addr.State, zone.States)
	}

	postal, postalErr := parsePostalCode(addr.PostalCode)
	if zone.hasPostalRange() && postalErr == nil {
		byPostal := postal >= zone.PostalFrom && postal <= zone.PostalTo
		if statesUsed && byPostal != byStates && logger != nil {
			logger.Warn("Zone classification disagreement, using postal range",
				zap.String("state", addr.State),
				zap.String("postal_code", addr.PostalCode),
				zap.Bool("state_in_zone", byStates),
				zap.Bool("postal_in_zone", byPostal))
		}
		return zoneName(byPostal)
	}

	return zoneName(byStates)
}

func zoneName(in bool) string {
	if in {
		return models.ZoneIn
	}
	return models.ZoneOut
}

func matchesState(state string, states []string) bool {
	needle := normalizeState(state)
	if needle == "" {
		return false
	}
	for _, s := range states {
		if normalizeState(s) == needle {
			return true
		}
	}
	return false
}

func normalizeState(value string) string {
	return strings.ToUpper(strings.Join(strings.Fields(value), " "))
}

func parsePostalCode(code string) (int, error) {
	return strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
}
