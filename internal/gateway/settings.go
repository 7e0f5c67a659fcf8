package gateway

import (
	"net/http"
	"strconv"

	"uas-server/internal/util"
)

// EnvVar is one entry of the settings listing.
type EnvVar struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	IsSecret bool   `json:"isSecret"`
}

// SettingsSource holds the values reported by SettingsHandler.
type SettingsSource struct {
	AppURL              string
	UASAPIURL           string
	UASAPIKey           string
	EditorAPIURL        string
	MemoryAgentEnabled  bool
	LoadBalancerEnabled bool
}

// EnvVars lists the configured settings, dropping empty values and masking
// secrets.
func (s SettingsSource) EnvVars() []EnvVar {
	all := []EnvVar{
		{Key: "NEXT_PUBLIC_APP_URL", Value: s.AppURL},
		{Key: "UAS_API_URL", Value: s.UASAPIURL},
		{Key: "UAS_API_KEY", Value: s.UASAPIKey, IsSecret: true},
		{Key: "VSCODE_API_URL", Value: s.EditorAPIURL},
		{Key: "MEMORY_AGENT_ENABLED", Value: strconv.FormatBool(s.MemoryAgentEnabled)},
		{Key: "LOAD_BALANCER_ENABLED", Value: strconv.FormatBool(s.LoadBalancerEnabled)},
	}
	out := make([]EnvVar, 0, len(all))
	for _, v := range all {
		if v.Value == "" {
			continue
		}
		if v.IsSecret {
			v.Value = util.MaskSecret(v.Value)
		}
		out = append(out, v)
	}
	return out
}

// SettingsHandler serves the settings listing.
func SettingsHandler(src SettingsSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.EnvVars())
	})
}
