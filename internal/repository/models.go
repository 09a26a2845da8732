package repository

import (
	"time"
)

// User is a staff account belonging to exactly one etablissement.
type User struct {
	ID                string     `db:"id"`
	Email             string     `db:"email"`
	PasswordHash      string     `db:"password_hash"`
	PinHash           *string    `db:"pin_hash"`
	Role              string     `db:"role"`
	EtablissementID   string     `db:"etablissement_id"`
	Nom               string     `db:"nom"`
	Prenom            string     `db:"prenom"`
	Actif             bool       `db:"actif"`
	DerniereConnexion *time.Time `db:"derniere_connexion"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// HasPin reports whether a PIN hash is set.
func (u *User) HasPin() bool {
	return u.PinHash != nil && *u.PinHash != ""
}
