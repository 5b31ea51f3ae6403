package provider

import (
	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/google/uuid"
)

var remoteIdentityNamespace = uuid.MustParse("6f0b7a8e-3c1d-5e2f-9a4b-1c2d3e4f5a6b")

// DeriveLocalID returns a stable local identifier for a remote item that
// carries none, so that repeated pulls of the same item land on one event.
func DeriveLocalID(provider calendar.ProviderID, calendarID, externalID string) calendar.EventID {
	name := provider.String() + "/" + calendarID + "/" + externalID
	return calendar.EventID(uuid.NewSHA1(remoteIdentityNamespace, []byte(name)).String())
}
