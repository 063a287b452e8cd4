package endpoint

import "net/http"

// BytesRenderer writes a pre-encoded body.
//
// Status defaults to 200. ContentType is only set when the header is not
// already present.
type BytesRenderer struct {
	Status      int
	ContentType string
	Body        []byte
}

func (br *BytesRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	if br.ContentType != "" && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", br.ContentType)
	}
	status := br.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(br.Body) == 0 {
		return nil
	}
	_, err := w.Write(br.Body)
	return err
}

// NoContentRenderer writes a response with no body.
//
// If Status is 0, it defaults to http.StatusNoContent.
type NoContentRenderer struct {
	Status int
}

func (ncr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	status := ncr.Status
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	return nil
}
