package server

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"
)

//go:embed templates/dashboard.html
var dashboardHTML string

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardHTML))

// pageData feeds the dashboard template
type pageData struct {
	Version          string
	RefreshSeconds   int
	ContaminationPct int
	MinPct           int
	MaxPct           int
}

// PageHandler renders the dashboard page
type PageHandler struct {
	dashboard *Dashboard
	version   string
	logger    zerolog.Logger
}

// NewPageHandler creates the handler for "/"
func NewPageHandler(dashboard *Dashboard, version string, logger zerolog.Logger) *PageHandler {
	return &PageHandler{dashboard: dashboard, version: version, logger: logger}
}

func (p *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only serve dashboard for exact root path or /index.html
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}

	settings := p.dashboard.Settings()
	data := pageData{
		Version:          p.version,
		RefreshSeconds:   int(settings.RefreshInterval.Seconds()),
		ContaminationPct: int(settings.Contamination*100 + 0.5),
		MinPct:           MinContaminationPct,
		MaxPct:           MaxContaminationPct,
	}

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, data); err != nil {
		p.logger.Error().Err(err).Msg("Failed to render dashboard")
		http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
