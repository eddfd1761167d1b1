package entity

// DomainEvent evento normalizado: variante cerrada {ArrivalEvent, DepartureEvent}.
// El método no exportado impide implementaciones fuera del paquete.
type DomainEvent interface {
	MovementHalf() MovementHalf
	domainEvent()
}

// ArrivalEvent llegada de producto a una bodega.
type ArrivalEvent struct {
	Half MovementHalf
}

// DepartureEvent salida de producto de una bodega.
type DepartureEvent struct {
	Half MovementHalf
}

func (e ArrivalEvent) MovementHalf() MovementHalf   { return e.Half }
func (e DepartureEvent) MovementHalf() MovementHalf { return e.Half }

func (ArrivalEvent) domainEvent()   {}
func (DepartureEvent) domainEvent() {}

// NewDomainEvent construye la variante correspondiente al tipo de la mitad.
func NewDomainEvent(half MovementHalf) (DomainEvent, bool) {
	switch half.Kind {
	case EventArrival:
		return ArrivalEvent{Half: half}, true
	case EventDeparture:
		return DepartureEvent{Half: half}, true
	}
	return nil, false
}
