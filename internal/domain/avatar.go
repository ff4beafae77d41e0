package domain

type AvatarID int

// Avatar is one entry of the read-only avatar catalog.
type Avatar struct {
	ID    AvatarID `json:"id" yaml:"id"`
	Name  string   `json:"name" yaml:"name"`
	Image string   `json:"image" yaml:"image"`
}
