package models

type ProfileFromCurrent struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type BootProfile struct {
	Name string `json:"name"`
}
