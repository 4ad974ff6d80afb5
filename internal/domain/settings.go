package domain

import "strings"

// ConnectionSettings identifies the remote WebUI and the account used to log
// in. It is stored as a single document/key by the settings repositories.
type ConnectionSettings struct {
	Host      string `bson:"host"      json:"host"`
	Username  string `bson:"username"  json:"username"`
	Password  string `bson:"password"  json:"password,omitempty"`
	UpdatedAt int64  `bson:"updatedAt" json:"updatedAt"`
}

// ConnectionSettingsPatch carries optional updates; nil fields are kept.
type ConnectionSettingsPatch struct {
	Host     *string `json:"host,omitempty"`
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

func (s ConnectionSettings) Normalize() ConnectionSettings {
	s.Host = strings.TrimRight(strings.TrimSpace(s.Host), "/")
	s.Username = strings.TrimSpace(s.Username)
	return s
}

func (s ConnectionSettings) Configured() bool {
	return strings.TrimSpace(s.Host) != ""
}

func (s ConnectionSettings) Apply(patch ConnectionSettingsPatch) ConnectionSettings {
	if patch.Host != nil {
		s.Host = *patch.Host
	}
	if patch.Username != nil {
		s.Username = *patch.Username
	}
	if patch.Password != nil {
		s.Password = *patch.Password
	}
	return s.Normalize()
}

// Redacted returns a copy safe to show over the API.
func (s ConnectionSettings) Redacted() ConnectionSettingsView {
	return ConnectionSettingsView{
		Host:        s.Host,
		Username:    s.Username,
		HasPassword: s.Password != "",
		UpdatedAt:   s.UpdatedAt,
	}
}

type ConnectionSettingsView struct {
	Host        string `json:"host"`
	Username    string `json:"username"`
	HasPassword bool   `json:"hasPassword"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
}
