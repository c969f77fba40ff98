package models

import "time"

// User holds the reward state for a wallet address. The address is
// lowercase-normalized and acts as the primary key; rows are created
// lazily on first reference and mutated only through the reward ledger.
type User struct {
	Address          string    `json:"address" db:"address"`
	Cubes            int       `json:"cubes" db:"cubes"`
	CubeOpensToday   int       `json:"cube_opens_today" db:"cube_opens_today"`
	LastCubeOpenDate string    `json:"last_cube_open_date" db:"last_cube_open_date"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
