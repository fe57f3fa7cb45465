package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-editor/internal/auth"
)

// RequireLaunchKey authenticates in-editor calls with the launch key issued
// at launch time. It is read from "Authorization: Bearer <ltik>" or, for
// plain browser navigations, the ltik query parameter.
func RequireLaunchKey(codec *auth.LaunchKeyCodec, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				raw = r.URL.Query().Get("ltik")
			}
			if raw == "" {
				http.Error(w, "missing ltik", http.StatusUnauthorized)
				return
			}
			k, err := codec.Parse(raw)
			if err != nil {
				log.WarnContext(r.Context(), "ltik rejected", slog.Any("error", err))
				http.Error(w, "invalid ltik", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithLaunchKey(r.Context(), k)))
		})
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
