package oauth

const FlowPassword = "password"

// Declaration defines the session contract a plugin provides.
type Declaration struct {
	Provider     string
	Flow         string
	TokenURL     string
	Audience     string
	Scope        string
	ClientID     string
	ClientSecret string
	StatePath    string
}
