package v1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/burncloud/fetchd/internal/data"
)

// writeJSON encodes v to the response, marking encode failures for the
// request log.
func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		markErr(w, err)
	}
}

// MiddlewareDownloadValidation decodes and validates the POST body,
// rejecting client writes to read-only fields.
func MiddlewareDownloadValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dl := &data.Download{}
		if err := decodeJSONStrict(w, r, dl, 1<<20, "application/json"); err != nil {
			markErr(w, err)
			if err == ErrContentType {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		if dl.Source == "" {
			markErr(w, ErrSource)
			http.Error(w, ErrSource.Error(), http.StatusBadRequest)
			return
		}
		if dl.TargetPath == "" {
			markErr(w, ErrTargetPath)
			http.Error(w, ErrTargetPath.Error(), http.StatusBadRequest)
			return
		}
		if dl.Name != "" {
			markErr(w, ErrReadOnlyName)
			http.Error(w, ErrReadOnlyName.Error(), http.StatusBadRequest)
			return
		}
		if dl.TaskID != "" {
			markErr(w, ErrReadOnlyTaskID)
			http.Error(w, ErrReadOnlyTaskID.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyDownload{}, dl)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MiddlewarePatchDesired decodes and validates the PATCH body.
func MiddlewarePatchDesired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body patchBody
		if err := decodeJSONStrict(w, r, &body, 1<<20, "application/json"); err != nil {
			markErr(w, err)
			if err == ErrContentType {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if body.DesiredStatus == "" {
			markErr(w, ErrDesiredStatusJSON)
			http.Error(w, ErrDesiredStatusJSON.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPatch{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
