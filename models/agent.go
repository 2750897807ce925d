package models

type Inventory struct {
	Total     int `json:"total" yaml:"total"`
	Available int `json:"available" yaml:"available"`
}

type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// HospitalProfile is the private state of one negotiating party.
type HospitalProfile struct {
	ID              string               `json:"id" yaml:"id"`
	Name            string               `json:"name" yaml:"name"`
	Type            string               `json:"type" yaml:"type"`
	Resources       map[string]Inventory `json:"resources" yaml:"resources"`
	Occupancy       int                  `json:"occupancy" yaml:"occupancy"`
	AvailableStaff  int                  `json:"available_staff" yaml:"available_staff"`
	FinancialHealth string               `json:"financial_health" yaml:"financial_health"`
	Location        Location             `json:"location" yaml:"location"`
}

// Available returns the spare units of kind. Staff falls back to the
// profile's available staff count when no staff inventory is listed.
func (p HospitalProfile) Available(kind ResourceKind) int {
	if inv, ok := p.Resources[string(kind)]; ok {
		return inv.Available
	}
	if kind == ResourceStaff {
		return p.AvailableStaff
	}
	return 0
}

func (p HospitalProfile) Clone() HospitalProfile {
	out := p
	if p.Resources != nil {
		out.Resources = make(map[string]Inventory, len(p.Resources))
		for k, v := range p.Resources {
			out.Resources[k] = v
		}
	}
	return out
}

type AgentSummary struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Type            string               `json:"type"`
	Personality     string               `json:"personality"`
	Occupancy       int                  `json:"occupancy"`
	AvailableStaff  int                  `json:"available_staff"`
	FinancialHealth string               `json:"financial_health"`
	Resources       map[string]Inventory `json:"resources"`
	Location        Location             `json:"location"`
}
