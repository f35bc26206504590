package sale

// Metadata is the descriptive document published alongside a sale for
// discovery tooling. It has no effect on behaviour.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Authors     []string `json:"authors"`
	Homepage    string   `json:"homepage"`
	Interfaces  []string `json:"interfaces"`
}

// DefaultMetadata returns the template document.
func DefaultMetadata() Metadata {
	return Metadata{
		Name:        "Tokensale Smart Contract Template",
		Description: "Deploy your own token sale smart contract!",
		Interfaces:  []string{"TZIP-016"},
	}
}

func (m Metadata) clone() Metadata {
	out := m
	out.Authors = append([]string(nil), m.Authors...)
	out.Interfaces = append([]string(nil), m.Interfaces...)
	return out
}
