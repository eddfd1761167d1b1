package dto

// MovementEnvelope mensaje tal como llega del stream (formato CloudEvents del productor).
// id/time/subject sirven para auditoría; la clave de reconciliación es data.movement_id.
type MovementEnvelope struct {
	ID              string             `json:"id"`
	Source          string             `json:"source"`
	SpecVersion     string             `json:"specversion"`
	Type            string             `json:"type"`
	DataContentType string             `json:"datacontenttype"`
	DataSchema      string             `json:"dataschema"`
	Time            int64              `json:"time"`    // epoch ms del envelope, distinto del timestamp de dominio
	Subject         string             `json:"subject"` // "<warehouse_id>:ARRIVAL" | "<warehouse_id>:DEPARTURE"
	Destination     string             `json:"destination"`
	Data            *MovementEventData `json:"data"`
}

// MovementEventData campo data del envelope. Punteros para distinguir ausente de cero.
type MovementEventData struct {
	MovementID  string `json:"movement_id"`
	WarehouseID string `json:"warehouse_id"`
	Timestamp   string `json:"timestamp"` // ISO-8601
	Event       string `json:"event"`     // arrival | departure
	ProductID   string `json:"product_id"`
	Quantity    *int64 `json:"quantity"`
}
