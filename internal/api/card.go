package api

import (
	"net/http"
	"time"
)

// AgentCard 描述路由自身，供上游发现。
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Capabilities       Capabilities `json:"capabilities"`
	Skills             []Skill      `json:"skills"`
}

// Capabilities 声明协议能力。
type Capabilities struct {
	Streaming bool `json:"streaming"`
}

// Skill 是卡片中的一项能力说明。
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"`
}

// DefaultAgentCard 返回路由的默认卡片。
func DefaultAgentCard(url string) AgentCard {
	return AgentCard{
		Name:               "StayRelay",
		Description:        "Routes hotel questions to the agent that owns the hotel, searches the catalog and drafts bookings.",
		URL:                url,
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain", "application/json"},
		Capabilities:       Capabilities{Streaming: true},
		Skills: []Skill{
			{
				ID:          "hotel_search",
				Name:        "Hotel search",
				Description: "Finds hotels matching city, price, stars and amenities.",
				Examples:    []string{"Find a 4 star hotel in Lisbon under 150 a night"},
			},
			{
				ID:          "hotel_routing",
				Name:        "Hotel routing",
				Description: "Forwards questions about a specific hotel to its own agent.",
				Examples:    []string{"Does Seaside Inn have parking?"},
			},
			{
				ID:          "booking",
				Name:        "Booking",
				Description: "Derives stay length and total price for a booking request.",
				Examples:    []string{"Book Seaside Inn from 2025-07-01 to 2025-07-04"},
			},
		},
	}
}

func (s *Server) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

type healthBody struct {
	Status string    `json:"status"`
	Agents int       `json:"agents"`
	Time   time.Time `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := healthBody{Status: "ok", Time: time.Now().UTC()}
	if s.registry != nil {
		body.Agents = s.registry.Len()
	}
	writeJSON(w, http.StatusOK, body)
}
