package models

// AttestationMessage is the queued form of an attestation request.
// Used across ingestion, processing, and messaging layers
type AttestationMessage struct {
	RequestID         string `json:"request_id"`
	EventDescription  string `json:"event_description"`
	ShipmentID        string `json:"shipment_id,omitempty"`
	ReceivedTimestamp string `json:"received_timestamp"` // RFC 3339
}
