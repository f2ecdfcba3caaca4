package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"voice_gateway/internal/relay"
	"voice_gateway/internal/synthesis"
	"voice_gateway/internal/utils"
)

// CreateVoiceRequest is the body of POST /api/voice/create
type CreateVoiceRequest struct {
	Text      string `json:"text"`
	VoiceName string `json:"voice_name"`
	APIKey    string `json:"api_key"`
	DeviceID  string `json:"device_id"`
}

// CreateVoiceResponse is returned for a finished synthesis
type CreateVoiceResponse struct {
	Success bool `json:"success"`
	*synthesis.Output
}

// Voice is one selectable prebuilt voice
type Voice struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

var voices = []Voice{
	{Name: "Voice 1 - Alpha", Code: "achernar"},
	{Name: "Voice 2 - Beta", Code: "achird"},
	{Name: "Voice 3 - Gamma", Code: "algenib"},
	{Name: "Voice 4 - Delta", Code: "algieba"},
	{Name: "Voice 5 - Epsilon", Code: "alnilam"},
	{Name: "Voice 6 - Zeta", Code: "aoede"},
	{Name: "Voice 7 - Eta", Code: "autonoe"},
	{Name: "Voice 8 - Theta", Code: "callirrhoe"},
	{Name: "Voice 9 - Iota", Code: "charon"},
	{Name: "Voice 10 - Kappa", Code: "despina"},
	{Name: "Voice 11 - Lambda", Code: "enceladus"},
	{Name: "Voice 12 - Mu", Code: "erinome"},
	{Name: "Voice 13 - Nu", Code: "fenrir"},
	{Name: "Voice 14 - Xi", Code: "gacrux"},
	{Name: "Voice 15 - Omicron", Code: "iapetus"},
	{Name: "Voice 16 - Pi", Code: "kore"},
	{Name: "Voice 17 - Rho", Code: "laomedeia"},
	{Name: "Voice 18 - Sigma", Code: "leda"},
	{Name: "Voice 19 - Tau", Code: "orus"},
	{Name: "Voice 20 - Upsilon", Code: "puck"},
	{Name: "Voice 21 - Phi", Code: "pulcherrima"},
	{Name: "Voice 22 - Chi", Code: "rasalgethi"},
	{Name: "Voice 23 - Psi", Code: "sadachbia"},
	{Name: "Voice 24 - Omega", Code: "sadaltager"},
	{Name: "Voice 25 - Alpha Prime", Code: "schedar"},
	{Name: "Voice 26 - Beta Prime", Code: "sulafat"},
	{Name: "Voice 27 - Gamma Prime", Code: "umbriel"},
	{Name: "Voice 28 - Delta Prime", Code: "vindemiatrix"},
	{Name: "Voice 29 - Epsilon Prime", Code: "zephyr"},
	{Name: "Voice 30 - Zeta Prime", Code: "zubenelgenubi"},
}

var audioContentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
}

// handleCreateVoice handles POST /api/voice/create
func (a *API) handleCreateVoice(w http.ResponseWriter, r *http.Request) {
	var req CreateVoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	if strings.TrimSpace(req.Text) == "" || req.APIKey == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing text or api_key")
		return
	}

	// The job is bounded by key rotation, not by the server's write timeout.
	// It may run one upstream timeout per key, and its usage is committed before the reply.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		a.logger.Warn("Failed to clear write deadline", "error", err)
	}

	out, err := a.deps.Voice.Synthesize(r.Context(), relay.Request{
		Token:     req.APIKey,
		DeviceID:  req.DeviceID,
		Text:      req.Text,
		Voice:     req.VoiceName,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, relay.ErrEmptyText) {
			utils.RespondWithError(w, http.StatusBadRequest, "Missing text or api_key")
			return
		}
		a.respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, CreateVoiceResponse{Success: true, Output: out})
}

// handleDownload handles GET /api/voice/download/{filename}
func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	f, err := a.deps.Artifacts.Open(name)
	if err != nil {
		if errors.Is(err, synthesis.ErrArtifactNotFound) {
			utils.RespondWithJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
			return
		}
		a.respondError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	if ct, ok := audioContentTypes[filepath.Ext(name)]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleListVoices handles GET /api/voice/list
func (a *API) handleListVoices(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"voices":  voices,
		"message": fmt.Sprintf("Found %d available voices", len(voices)),
	})
}

// VoiceAuthResponse reports a credential's device binding and remaining allowance
type VoiceAuthResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	KeyName        string `json:"key_name"`
	User           string `json:"user"`
	Expires        string `json:"expires"`
	RemainingDaily int    `json:"remaining_daily"`
	DailyLimit     int    `json:"daily_limit"`
	DeviceID       string `json:"device_id"`
	DeviceMasked   string `json:"device_masked"`
	NewlyBound     bool   `json:"newly_bound"`
	LastLogin      string `json:"last_login"`
}

// handleVoiceAuth handles GET /api/voice/auth?key=&device_id=
func (a *API) handleVoiceAuth(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	key := query.Get("key")
	if key == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "API key required")
		return
	}

	res, err := a.deps.Voice.Authenticate(r.Context(), key, strings.TrimSpace(query.Get("device_id")))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	cred := res.Binding.Credential
	resp := VoiceAuthResponse{
		Success:        true,
		Message:        "API key validated successfully",
		KeyName:        cred.Name,
		User:           cred.OwnerUsername,
		RemainingDaily: res.Quota.RemainingDaily,
		DailyLimit:     cred.DailyLimit,
		DeviceID:       res.Binding.Fingerprint,
		DeviceMasked:   res.Binding.Masked,
		NewlyBound:     res.Binding.NewlyBound,
	}
	if cred.ExpiresAt != nil {
		resp.Expires = cred.ExpiresAt.Format("02/01/2006")
	}
	if !res.Binding.LastLogin.IsZero() {
		resp.LastLogin = res.Binding.LastLogin.Format("02/01/2006 15:04")
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// handleVersion handles GET /api/version.json
func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"version":          a.cfg.AppVersion,
		"update_available": false,
		"download_url":     "",
		"changelog":        "",
		"server_time":      a.now().UTC().Format(time.RFC3339),
	})
}
