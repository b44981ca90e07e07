package backend

import (
	"errors"
	"time"
)

// Item is a stored mushroom sighting.
type Item struct {
	ID           string    `json:"id"`
	Image        string    `json:"image,omitempty"`
	MushroomName string    `json:"mushroomName,omitempty"`
	Location     string    `json:"location"`
	DateTime     time.Time `json:"dateTime"`
	Count        int       `json:"count"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Validate checks the fields every sighting must carry.
func (it *Item) Validate() error {
	if it.Location == "" {
		return errors.New("location is required")
	}
	if it.Count < 1 {
		return errors.New("count must be at least 1")
	}
	if it.DateTime.IsZero() {
		return errors.New("dateTime is required")
	}
	return nil
}
