package httpapi

import (
	"strings"

	"github.com/ecmwf/reqbroker/request"
)

// response is the JSON envelope returned by every requests/downloads/
// uploads endpoint, grounded on data_transfer.py's construct_response.
type response struct {
	Location      string `json:"location"`
	Message       string `json:"message,omitempty"`
	Status        string `json:"status"`
	ContentLength *int64 `json:"contentLength,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
}

// constructResponse builds the envelope for r, matching
// data_transfer.py's construct_response: a completed RETRIEVE exposes
// its size/type and a location pointing at wherever the data actually
// lives (staging's external URL if one was provided, this server's own
// /downloads endpoint otherwise); an UPLOADING ARCHIVE request points
// at /uploads so the caller knows where to POST its payload.
func constructResponse(r *request.Request) response {
	resp := response{
		Location: "./" + r.ID.String(),
		Message:  r.UserMessage,
		Status:   statusLabel(r.Status),
	}

	if r.Verb == request.Retrieve && r.ContentLength > 0 {
		length := r.ContentLength
		resp.ContentLength = &length
		resp.ContentType = r.ContentType
		switch {
		case r.URL == "":
			resp.Location = "../downloads/" + r.ID.String()
		case strings.HasPrefix(r.URL, "./"):
			resp.Location = "../" + strings.TrimPrefix(r.URL, "./")
		default:
			resp.Location = r.URL
		}
	}

	if r.Verb == request.Archive && r.Status == request.Uploading {
		resp.Location = "../uploads/" + r.ID.String()
	}

	return resp
}

// statusLabel mirrors construct_response's WAITING->"queued" display
// alias (the original API never surfaces the literal "waiting" label
// to clients, reserving it for stuck/internal bookkeeping).
func statusLabel(s request.Status) string {
	if s == request.Waiting {
		return "queued"
	}
	return strings.ToLower(s.String())
}
