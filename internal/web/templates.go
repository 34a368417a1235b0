package web

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/auth"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/session"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"login", "login_2fa", "dashboard", "admin", "admin_users", "settings", "error"}

var funcs = template.FuncMap{
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}

// pageData is the single view model shared by every template.
type pageData struct {
	Title     string
	School    string
	CSRFToken string
	Flash     *session.Flash
	User      *entity.User
	IsStaff   bool
	IsAdmin   bool

	Panel        string
	PendingEmail string
	Tab          string
	Enrollment   *auth.EnrollmentDisplay

	Accounts []*entity.User
	Filter   entity.Filter
	Editing  *entity.User
	Roles    []entity.Role
	Statuses []entity.Status

	Status  int
	Message string
}

func parseTemplates() (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}
