package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"voice_gateway/internal/denial"
	"voice_gateway/internal/middleware"
	"voice_gateway/internal/utils"
)

const maxBodyBytes = 1 << 20

var (
	errNotJSON   = errors.New("content type is not application/json")
	errEmptyBody = errors.New("empty request body")
	errBadJSON   = errors.New("malformed JSON body")
)

// respondError writes a denial with its reason code and message. Anything that is
// not a denial is logged and reported as a generic internal error.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var de *denial.Error
	if errors.As(err, &de) {
		utils.RespondWithErrorCode(w, de.Reason.HTTPStatus(), string(de.Reason), de.Reason.Message())
		return
	}

	a.logger.Error("Request failed",
		"request_id", middleware.GetRequestID(r.Context()),
		"path", r.URL.Path,
		"error", err,
	)
	reason := denial.Internal
	utils.RespondWithErrorCode(w, reason.HTTPStatus(), string(reason), reason.Message())
}

// decodeJSON requires a JSON content type and a non-empty body
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errNotJSON
	}
	return decodeOptionalJSON(w, r, dst)
}

// decodeOptionalJSON decodes the body if there is one. An absent body is errEmptyBody.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return errBadJSON
	}
	return nil
}

func respondDecodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotJSON):
		utils.RespondWithError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
	case errors.Is(err, errEmptyBody):
		utils.RespondWithError(w, http.StatusBadRequest, "Request body is empty")
	default:
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
	}
}

// pathID parses the {id} path segment
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// clientIP prefers the first X-Forwarded-For hop over the socket address
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
