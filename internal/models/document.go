package models

import "time"

// CommunicationDocument is the shape indexed into the search mirror.
type CommunicationDocument struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Text        string    `json:"text"`
	Type        Type      `json:"type"`
	Date        time.Time `json:"date"`
	ReleaseDate time.Time `json:"release_date"`
	Keywords    []string  `json:"keywords"`
}
