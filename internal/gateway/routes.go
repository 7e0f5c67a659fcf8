package gateway

import (
	"net/http"
	"net/url"
)

// Endpoints builds the upstream map from configured base URLs. The audio
// upstream falls back to the UAS API.
func Endpoints(uasURL, editorURL, mobileEditorURL, audioURL string) map[Upstream]Endpoint {
	if audioURL == "" {
		audioURL = uasURL
	}
	return map[Upstream]Endpoint{
		UpstreamUAS:          {Name: "UAS_API_URL", BaseURL: uasURL},
		UpstreamEditor:       {Name: "VS Code API", BaseURL: editorURL},
		UpstreamMobileEditor: {Name: "Mobile Editor API", BaseURL: mobileEditorURL},
		UpstreamAudio:        {Name: "Audio API", BaseURL: audioURL},
	}
}

var defaultLimit = url.Values{"limit": {"50"}}

// Routes is the complete gateway table, relative to the gateway prefix.
func Routes() []Route {
	return []Route{
		{Name: "editor_send", Method: http.MethodPost, Path: "/editor/send", Upstream: UpstreamEditor, Body: BodyJSON, Failure: "Failed to send to VS Code"},
		{Name: "mobile_editor_config", Method: http.MethodPost, Path: "/mobile-editor/config", Target: "/config", Upstream: UpstreamMobileEditor, Body: BodyJSON, Failure: "Failed to save config"},

		{Name: "prompt_templates_list", Method: http.MethodGet, Path: "/prompt-templates", Auth: AuthBearer, Failure: "Failed to fetch templates", EmptyFallback: true},
		{Name: "prompt_templates_create", Method: http.MethodPost, Path: "/prompt-templates", Auth: AuthBearer, Body: BodyJSON, Failure: "Failed to create template"},
		{Name: "prompt_templates_update", Method: http.MethodPut, Path: "/prompt-templates/{id}", Auth: AuthBearer, Body: BodyJSON, Failure: "Failed to update template"},
		{Name: "prompt_templates_delete", Method: http.MethodDelete, Path: "/prompt-templates/{id}", Auth: AuthBearer, Failure: "Failed to delete template"},

		{Name: "agent_command", Method: http.MethodPost, Path: "/agents/{id}/command", Auth: AuthBearer, Body: BodyJSON, Failure: "Failed to send command"},

		{Name: "providers_list", Method: http.MethodGet, Path: "/providers", Auth: AuthAPIKey, Failure: "Failed to fetch providers"},
		{Name: "providers_add", Method: http.MethodPost, Path: "/providers", Auth: AuthAPIKey, Body: BodyJSON, Failure: "Failed to add provider"},
		{Name: "providers_test", Method: http.MethodPost, Path: "/providers/{id}/test", Auth: AuthAPIKey, Body: BodyJSON, Failure: "Failed to test provider"},

		{Name: "audio_process", Method: http.MethodPost, Path: "/audio/process", Upstream: UpstreamAudio, Body: BodyMultipart, Failure: "Failed to process audio"},

		{Name: "loadbalancer_list", Method: http.MethodGet, Path: "/loadbalancer/instances", Auth: AuthBearer, Failure: "Failed to fetch instances", EmptyFallback: true},
		{Name: "loadbalancer_add", Method: http.MethodPost, Path: "/loadbalancer/instances", Auth: AuthBearer, Body: BodyJSON, Failure: "Failed to add instance"},
		{Name: "loadbalancer_update", Method: http.MethodPatch, Path: "/loadbalancer/instances/{id}", Auth: AuthBearer, Body: BodyJSON, Failure: "Failed to update instance"},

		{Name: "chat_history", Method: http.MethodGet, Path: "/chat/history", Auth: AuthAPIKey, Failure: "Failed to fetch chat history", DefaultQuery: defaultLimit},
		{Name: "chat_speech_to_text", Method: http.MethodPost, Path: "/chat/speech-to-text", Auth: AuthAPIKey, Body: BodyMultipart, Failure: "Failed to transcribe audio"},
		{Name: "chat_audio", Method: http.MethodPost, Path: "/chat/audio", Auth: AuthAPIKey, Body: BodyJSON, Failure: "Failed to generate audio"},

		{Name: "models", Method: http.MethodGet, Path: "/models", Auth: AuthBearer, Failure: "Failed to fetch models"},

		{Name: "terminal_commands_list", Method: http.MethodGet, Path: "/terminal-commands", Auth: AuthAPIKey, Failure: "Failed to fetch commands"},
		{Name: "terminal_commands_add", Method: http.MethodPost, Path: "/terminal-commands", Auth: AuthAPIKey, Body: BodyJSON, Failure: "Failed to add command"},
		{Name: "terminal_commands_update", Method: http.MethodPut, Path: "/terminal-commands/{id}", Auth: AuthAPIKey, Body: BodyJSON, Failure: "Failed to update command"},
		{Name: "terminal_commands_delete", Method: http.MethodDelete, Path: "/terminal-commands/{id}", Auth: AuthAPIKey, Failure: "Failed to delete command"},
		{Name: "terminal_commands_use", Method: http.MethodPost, Path: "/terminal-commands/{id}/use", Auth: AuthAPIKey, Body: BodyJSON, Failure: "Failed to increment usage count"},

		{Name: "health", Method: http.MethodGet, Path: "/health", Auth: AuthBearer, Health: true},

		{Name: "cli_execute", Method: http.MethodPost, Path: "/cli-agent/execute", Auth: AuthBearer, Body: BodyJSON, Failure: "Failed to execute command"},

		// Registered before /memory/{id} so the literal segment wins.
		{Name: "memory_conversations", Method: http.MethodGet, Path: "/memory/conversations", Auth: AuthBearer, Failure: "Failed to fetch conversations", EmptyFallback: true},
		{Name: "memory_get", Method: http.MethodGet, Path: "/memory/{id}", Auth: AuthBearer, Failure: "Failed to fetch conversation", EmptyFallback: true, DefaultQuery: defaultLimit},
		{Name: "memory_delete", Method: http.MethodDelete, Path: "/memory/{id}", Auth: AuthBearer, Failure: "Failed to delete conversation", Acknowledge: true},
	}
}
