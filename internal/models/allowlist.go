package models

// AllowListMode selects how allow-listed domains are turned into rules
type AllowListMode string

const (
	// AllowListDefault adds an exception rule per allow-listed domain
	AllowListDefault AllowListMode = "default"
	// AllowListInverted disables filtering everywhere except on listed domains
	AllowListInverted AllowListMode = "inverted"
)

// AllowListState is the persisted allow-list
type AllowListState struct {
	Mode    AllowListMode `json:"mode"`
	Domains []string      `json:"domains"`
}
