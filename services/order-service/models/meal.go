package models

import "github.com/shopspring/decimal"

// Meal is the catalog view the ordering flow needs.
type Meal struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	IsAvailable bool
}

// UserContact is what notifications need to know about a user.
type UserContact struct {
	ID        string
	Email     string
	FirstName string
}
