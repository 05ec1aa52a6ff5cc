package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/saferoam/incident-server/internal/models"
)

// EmergencyContact is the mock PSTN destination for an emergency service.
type EmergencyContact struct {
	Service string `json:"service"`
	Name    string `json:"name"`
	Number  string `json:"number"`
}

// Mock contact directory. A real deployment would dial out through a
// telephony provider; here the call only lands in the audit trail.
var emergencyContacts = map[string]EmergencyContact{
	"police":   {Service: "police", Name: "NYPD Emergency", Number: "911"},
	"hospital": {Service: "hospital", Name: "Mount Sinai Emergency", Number: "(212) 241-6500"},
	"fire":     {Service: "fire", Name: "FDNY Emergency", Number: "911"},
}

// EmergencyCall records a mock emergency call against the incident. No real
// call is placed; the only effect is an audit-log entry naming the contact.
func (s *Lifecycle) EmergencyCall(ctx context.Context, id, service, actor string) (*models.Incident, *EmergencyContact, error) {
	contact, ok := emergencyContacts[service]
	if !ok {
		return nil, nil, validationf("unknown emergency service %q", service)
	}

	inc, err := s.AppendAudit(ctx, id,
		fmt.Sprintf("Emergency Call - %s", strings.ToUpper(service)),
		actor,
		fmt.Sprintf("Called %s (%s) - MOCK", contact.Name, contact.Number))
	if err != nil {
		return nil, nil, err
	}

	s.logger.Infow("Mock emergency call", "id", id, "service", service, "contact", contact.Name)
	return inc, &contact, nil
}
