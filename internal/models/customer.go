package models

import "time"

// Customer holds contact details and the loyalty balance of a requester.
type Customer struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	TelegramChatID int64     `json:"telegram_chat_id"`
	LoyaltyPoints  int64     `json:"loyalty_points"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *Customer) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
