package httpapi

import (
	"net/http"

	"jesi.ai/console/internal/auth"
)

// Section is a guarded console view and the capability it needs.
type Section struct {
	Path       string `json:"path"`
	Title      string `json:"title"`
	Capability string `json:"capability"`
}

var sections = []Section{
	{"/console/schools", "Schools", auth.CapSchoolRead},
	{"/console/schools/settings", "School settings", auth.CapSchoolWrite},
	{"/console/school-users", "School users", auth.CapUsersSchool},
	{"/console/users", "Users", auth.CapUsersRead},
	{"/console/content", "Content library", auth.CapContentRead},
	{"/console/content/new", "New content", auth.CapContentCreate},
	{"/console/content/school", "School content", auth.CapContentSchool},
	{"/console/analytics/class", "Class analytics", auth.CapAnalyticsClass},
	{"/console/analytics/finance", "Finance analytics", auth.CapAnalyticsFinance},
	{"/console/progress", "My progress", auth.CapProgressOwn},
	{"/console/support", "Support tickets", auth.CapTicketsManage},
	{"/console/billing", "Billing", auth.CapBillingManage},
	{"/console/health", "System health", auth.CapHealthRead},
	{"/console/bugs", "Bug tracker", auth.CapBugsManage},
}

// Sections lists the guarded console views.
func Sections() []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	return out
}

func (a *API) sectionHandler(sec Section) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s := a.guard.SessionFor(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"section": sec,
			"user":    s.User,
		})
	})
}

// handleDashboard lists the sections the current user may open.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s := a.guard.SessionFor(r)
	visible := make([]Section, 0, len(sections))
	for _, sec := range sections {
		if s.User != nil && auth.RoleAllows(s.User.Role, sec.Capability) {
			visible = append(visible, sec)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     s.User,
		"sections": visible,
	})
}
