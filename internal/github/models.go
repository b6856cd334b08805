package github

// Profile is the subset of GET /users/{login} the dashboard renders.
type Profile struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatar_url"`
	HTMLURL     string `json:"html_url"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
	UpdatedAt   string `json:"updated_at"`
}

// DisplayName falls back to the login when the profile has no name.
func (p Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Login
}

// Repository is the subset of GET /users/{login}/repos the dashboard renders.
type Repository struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	HTMLURL         string `json:"html_url"`
	Language        string `json:"language"`
	Size            int    `json:"size"` // KB
	StargazersCount int    `json:"stargazers_count"`
	Fork            bool   `json:"fork"`
	UpdatedAt       string `json:"updated_at"`
}
