package models

import "net"

type NASType string

const (
	NASTypeRouterOS NASType = "routeros"
	NASTypeCoA      NASType = "coa"
)

type NAS struct {
	Name        string  `json:"name"`
	Address     net.IP  `json:"address"`
	Secret      string  `json:"-"`
	Type        NASType `json:"type"`
	DefaultPlan string  `json:"default_plan,omitempty"`
}
